// Package space maps vector-space names to the content they are embedded from.
package space

import (
	"fmt"
	"sort"
	"strings"

	"github.com/abdul-hamid-achik/multivec/internal/embed"
	"github.com/abdul-hamid-achik/multivec/internal/store"
)

// Role describes what a vector space holds.
type Role string

const (
	// RoleImage holds embeddings of the raw image bytes.
	RoleImage Role = "image"
	// RoleText holds embeddings of raw text items.
	RoleText Role = "text"
	// RoleDescription holds embeddings of LLM-generated image descriptions.
	RoleDescription Role = "description"
)

// Layout names the vector spaces used for each role. Text and description
// may share a space, which is the default: descriptions then land next to
// text items and are reachable by plain text queries.
type Layout struct {
	Image       string `mapstructure:"image" yaml:"image" json:"image"`
	Text        string `mapstructure:"text" yaml:"text" json:"text"`
	Description string `mapstructure:"description" yaml:"description" json:"description"`
}

// DefaultLayout returns the layout used when nothing is configured.
func DefaultLayout() Layout {
	return Layout{
		Image:       "image",
		Text:        "text",
		Description: "text",
	}
}

// Validate checks that every role has a space name.
func (l Layout) Validate() error {
	for role, name := range map[Role]string{RoleImage: l.Image, RoleText: l.Text, RoleDescription: l.Description} {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("no vector space configured for %s", role)
		}
	}
	if l.Image == l.Text {
		return fmt.Errorf("image and text roles cannot share space %q", l.Image)
	}
	if l.Image == l.Description {
		return fmt.Errorf("image and description roles cannot share space %q", l.Image)
	}
	return nil
}

// Native returns the space raw content of modality m is embedded into.
func (l Layout) Native(m embed.Modality) string {
	if m == embed.ModalityImage {
		return l.Image
	}
	return l.Text
}

// Roles returns every role that writes to the named space.
func (l Layout) Roles(name string) []Role {
	var roles []Role
	if name == l.Image {
		roles = append(roles, RoleImage)
	}
	if name == l.Text {
		roles = append(roles, RoleText)
	}
	if name == l.Description {
		roles = append(roles, RoleDescription)
	}
	return roles
}

// Embedder returns the embedding modality that produces vectors for the
// named space, and false when the layout does not know the space.
func (l Layout) Embedder(name string) (embed.Modality, bool) {
	switch {
	case name == l.Image:
		return embed.ModalityImage, true
	case name == l.Text || name == l.Description:
		return embed.ModalityText, true
	}
	return "", false
}

// Names returns the distinct space names in lexical order.
func (l Layout) Names() []string {
	seen := map[string]bool{}
	var names []string
	for _, n := range []string{l.Image, l.Text, l.Description} {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// Schema builds a collection schema for the layout from the embedders that
// will fill it. A nil image embedder leaves the image space out.
func (l Layout) Schema(text, image embed.Provider, distance store.Distance) store.Schema {
	schema := store.Schema{}
	if text != nil {
		schema[l.Text] = store.VectorSpace{Size: text.Dimensions(), Distance: distance}
		schema[l.Description] = store.VectorSpace{Size: text.Dimensions(), Distance: distance}
	}
	if image != nil {
		schema[l.Image] = store.VectorSpace{Size: image.Dimensions(), Distance: distance}
	}
	return schema
}
