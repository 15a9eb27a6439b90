package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var collectionCmd = &cobra.Command{
	Use:     "collection",
	Aliases: []string{"collections"},
	Short:   "Manage collections",
}

var collectionCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a collection",
	Long: `Create a collection with one vector space per configured role.
Space sizes come from the configured embedders. Creating an existing
collection with the same spaces succeeds; differing spaces fail.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCollectionCreate,
}

var collectionDescribeCmd = &cobra.Command{
	Use:   "describe [name]",
	Short: "Show the vector spaces of a collection",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCollectionDescribe,
}

var collectionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List collections",
	RunE:  runCollectionList,
}

var collectionDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a collection and all of its records",
	Args:  cobra.ExactArgs(1),
	RunE:  runCollectionDelete,
}

func init() {
	collectionDescribeCmd.Flags().StringP("format", "f", "default", "output format (default, json)")

	collectionCmd.AddCommand(collectionCreateCmd)
	collectionCmd.AddCommand(collectionDescribeCmd)
	collectionCmd.AddCommand(collectionListCmd)
	collectionCmd.AddCommand(collectionDeleteCmd)
}

func collectionArg(a *app, cmd *cobra.Command, args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return a.collection(cmd)
}

func runCollectionCreate(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	name := collectionArg(a, cmd, args)
	if err := a.ensureCollection(cmd, name); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Collection %s ready\n", name)
	return printSchema(cmd, a, name, "default")
}

func runCollectionDescribe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	format, _ := cmd.Flags().GetString("format")
	return printSchema(cmd, a, collectionArg(a, cmd, args), format)
}

func printSchema(cmd *cobra.Command, a *app, name, format string) error {
	schema, err := a.store.DescribeCollection(cmd.Context(), name)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if format == "json" {
		data, err := json.MarshalIndent(map[string]any{"name": name, "spaces": schema}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	layout := a.pipeline.Layout()
	for _, space := range schema.Names() {
		vs := schema[space]
		fmt.Fprintf(out, "  %-12s %5d  %-8s %v\n", space, vs.Size, vs.Distance, layout.Roles(space))
	}
	return nil
}

func runCollectionList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	names, err := a.store.ListCollections(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(names) == 0 {
		fmt.Fprintln(out, "No collections found.")
		return nil
	}
	for _, name := range names {
		fmt.Fprintln(out, name)
	}
	return nil
}

func runCollectionDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.DeleteCollection(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted collection %s\n", args[0])
	return nil
}
