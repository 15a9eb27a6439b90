// Package ingest turns raw text and image items into stored multi-vector records.
package ingest

import (
	"fmt"
	"maps"
	"strings"

	"github.com/abdul-hamid-achik/multivec/internal/embed"
)

// Payload keys written for every record.
const (
	KeySource           = "source"
	KeyModality         = "modality"
	KeyText             = "text"
	KeyCaption          = "caption"
	KeyDescription      = "description"
	KeyDescriptionModel = "description_model"
	KeyIngestedAt       = "ingested_at"
	KeyMediaType        = "media_type"
)

// Item is one piece of raw content to ingest.
type Item struct {
	// ID is optional; the store assigns one when empty.
	ID string
	// Modality is inferred from the content when empty.
	Modality embed.Modality
	// Text is the content of a text item. On an image item it is an
	// optional caption, embedded into the text space of the same record.
	Text  string
	Image *embed.Image
	// Source is a reference to where the content came from (path, URL).
	Source  string
	Payload map[string]any
}

// TextItem builds a text item.
func TextItem(text, source string) Item {
	return Item{Modality: embed.ModalityText, Text: text, Source: source}
}

// ImageItem builds an image item.
func ImageItem(img *embed.Image, source string) Item {
	return Item{Modality: embed.ModalityImage, Image: img, Source: source}
}

// CaptionedImageItem builds an image item stored together with a caption.
func CaptionedImageItem(img *embed.Image, caption, source string) Item {
	return Item{Modality: embed.ModalityImage, Image: img, Text: caption, Source: source}
}

// Caption returns the caption of an image item, or "" for text items.
func (it Item) Caption() string {
	if it.Image == nil {
		return ""
	}
	return strings.TrimSpace(it.Text)
}

// Key identifies the item in errors and logs.
func (it Item) Key() string {
	switch {
	case it.ID != "":
		return it.ID
	case it.Source != "":
		return it.Source
	}
	return "<unnamed>"
}

// request builds the native embedding request and checks the modality tag
// agrees with the content.
func (it Item) request() (embed.Request, error) {
	req := embed.Request{Text: it.Text, Image: it.Image}
	if it.Image != nil {
		req.Text = ""
	}
	if err := req.Validate(); err != nil {
		return req, err
	}
	if it.Modality != "" && it.Modality != req.Modality() {
		return req, fmt.Errorf("item tagged %s carries %s content", it.Modality, req.Modality())
	}
	return req, nil
}

func (it Item) payload(description, descriptionModel, ingestedAt string) map[string]any {
	payload := make(map[string]any, len(it.Payload)+6)
	maps.Copy(payload, it.Payload)

	if it.Source != "" {
		payload[KeySource] = it.Source
	}
	payload[KeyIngestedAt] = ingestedAt
	if it.Image != nil {
		payload[KeyModality] = string(embed.ModalityImage)
		payload[KeyMediaType] = it.Image.ContentType()
		if caption := it.Caption(); caption != "" {
			payload[KeyCaption] = caption
		}
	} else {
		payload[KeyModality] = string(embed.ModalityText)
		payload[KeyText] = it.Text
	}
	if description != "" {
		payload[KeyDescription] = description
		payload[KeyDescriptionModel] = descriptionModel
	}
	return payload
}
