// Package llmtest provides an in-process llm.Client for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/abdul-hamid-achik/multivec/internal/embed"
	"github.com/abdul-hamid-achik/multivec/internal/fault"
	"github.com/abdul-hamid-achik/multivec/internal/llm"
)

// Client answers every prompt with a fixed text, or a per-image text when
// one was registered with Describe.
type Client struct {
	Reply string

	mu       sync.Mutex
	byImage  map[string]string
	err      error
	calls    int
	prompts  []string
	noVision bool
}

// New creates a vision-capable fake replying with reply.
func New(reply string) *Client {
	return &Client{Reply: reply, byImage: map[string]string{}}
}

// Describe registers the reply for a particular image.
func (c *Client) Describe(image []byte, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byImage[string(image)] = text
}

// Fail makes every call fail with err.
func (c *Client) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// DisableVision makes the fake reject images like a text-only model.
func (c *Client) DisableVision() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noVision = true
}

// Calls returns the number of Generate invocations.
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Prompts returns every prompt received.
func (c *Client) Prompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prompts...)
}

func (c *Client) Generate(ctx context.Context, prompt string, image *embed.Image) (*llm.GeneratedText, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.prompts = append(c.prompts, prompt)
	if c.err != nil {
		return nil, c.err
	}
	if image != nil && c.noVision {
		return nil, fault.New(fault.InvalidInput, c.Name(), "generate", llm.ErrNoVision)
	}

	text := c.Reply
	if image != nil {
		if t, ok := c.byImage[string(image.Data)]; ok {
			text = t
		}
	}
	return &llm.GeneratedText{
		Text:     text,
		Provider: c.Name(),
		Model:    c.Model(),
		Usage:    llm.Usage{PromptTokens: len(prompt), CompletionTokens: len(text), TotalTokens: len(prompt) + len(text)},
	}, nil
}

func (c *Client) Name() string  { return "fake" }
func (c *Client) Model() string { return "fake-vision" }

func (c *Client) Vision() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.noVision
}
