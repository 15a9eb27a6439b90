package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/multivec/internal/embed"
	"github.com/abdul-hamid-achik/multivec/internal/fault"
	"github.com/abdul-hamid-achik/multivec/internal/search"
	"github.com/abdul-hamid-achik/multivec/internal/store"
)

var queryCmd = &cobra.Command{
	Use:   "query [text...]",
	Short: "Search a collection with text or an image",
	Long: `Embed the query for every vector space it can reach, search each space
and merge the scores into one ranking.

Examples:
  multivec query "a red bicycle"
  multivec query --image photos/bike.jpg --describe
  multivec query "soup" --space text --where modality=text
  multivec query "bike" --merge weighted_average:image=2,text=1 -f json`,
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().String("image", "", "image file to search with")
	queryCmd.Flags().StringSliceP("space", "s", nil, "vector spaces to search (default: every reachable space)")
	queryCmd.Flags().IntP("limit", "n", 0, "maximum number of results (default from query.limit)")
	queryCmd.Flags().Int("per-space-limit", 0, "hits taken from each space before merging (default: limit)")
	queryCmd.Flags().StringP("merge", "m", "", "merge rule: max, sum or weighted_average:space=weight,... (default from query.merge)")
	queryCmd.Flags().StringP("format", "f", "default", "output format (default, json, compact)")
	queryCmd.Flags().Bool("describe", false, "let an image query reach text spaces through an LLM description")
	queryCmd.Flags().StringToString("where", nil, "payload fields that must match (key=value)")
	queryCmd.Flags().StringToString("not", nil, "payload fields that must not match (key=value)")
}

// conditions turns key=value flags into filter conditions in key order.
func conditions(kv map[string]string) []store.Condition {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	conds := make([]store.Condition, 0, len(keys))
	for _, k := range keys {
		conds = append(conds, store.Condition{Key: k, Value: payloadValue(kv[k])})
	}
	return conds
}

func buildQuery(cmd *cobra.Command, args []string) (search.Query, embed.Modality, error) {
	text := strings.TrimSpace(strings.Join(args, " "))
	imagePath, _ := cmd.Flags().GetString("image")
	if (text == "") == (imagePath == "") {
		return search.Query{}, "", fault.Newf(fault.InvalidInput, "cli", "query", "pass either query text or --image")
	}
	if text != "" {
		return search.TextQuery(text), embed.ModalityText, nil
	}
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return search.Query{}, "", fault.New(fault.InvalidInput, "cli", "query", err)
	}
	return search.ImageQuery(&embed.Image{Data: data}), embed.ModalityImage, nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	q, modality, err := buildQuery(cmd, args)
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		limit = a.cfg.Query.Limit
	}
	opts := search.Options{DescribeImages: a.llm != nil && describeFlag(cmd, a)}
	opts.PerSpaceLimit, _ = cmd.Flags().GetInt("per-space-limit")
	if m, _ := cmd.Flags().GetString("merge"); m != "" {
		rule, err := search.ParseMergeRule(m)
		if err != nil {
			return fault.New(fault.InvalidInput, "cli", "query", err)
		}
		opts.Merge = rule
	}
	where, _ := cmd.Flags().GetStringToString("where")
	not, _ := cmd.Flags().GetStringToString("not")
	if len(where)+len(not) > 0 {
		opts.Filter = &store.Filter{Must: conditions(where), MustNot: conditions(not)}
	}

	collection := a.collection(cmd)
	spaces, _ := cmd.Flags().GetStringSlice("space")
	if len(spaces) == 0 {
		spaces, err = a.searcher.Spaces(cmd.Context(), collection, modality, opts.DescribeImages)
		if err != nil {
			return err
		}
	}
	a.logger.Sugar().Debugw("query", "collection", collection, "spaces", spaces, "limit", limit)

	results, err := a.searcher.SearchWithOptions(cmd.Context(), q, collection, spaces, limit, opts)
	if err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("format")
	fmt.Fprint(cmd.OutOrStdout(), search.FormatResults(results, search.OutputFormat(format)))
	if format == string(search.FormatJSON) {
		fmt.Fprintln(cmd.OutOrStdout())
	}
	return nil
}
