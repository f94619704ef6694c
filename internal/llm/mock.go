package llm

import (
	"context"
	"strings"
)

// MockBackend streams a deterministic markdown document built from the
// prompt. Fragments deliberately split words, delimiters, and fence lines
// so the downstream pipeline is exercised the way a real model stream
// would, including the closing answer tag.
type MockBackend struct{}

func NewMockBackend() *MockBackend { return &MockBackend{} }

func (b *MockBackend) StreamDocument(
	ctx context.Context,
	req Request,
	onDelta DeltaHandler,
) (Response, error) {
	var text strings.Builder
	for _, delta := range mockScript(req.Prompt) {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		default:
		}
		text.WriteString(delta.Content)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return Response{}, err
			}
		}
	}
	return Response{Text: text.String()}, nil
}

func mockScript(prompt string) []Delta {
	topic := strings.TrimSpace(prompt)
	if topic == "" {
		topic = "an unnamed topic"
	}
	if runes := []rune(topic); len(runes) > 48 {
		topic = string(runes[:48])
	}

	return []Delta{
		{Reasoning: "Reading the request. "},
		{Reasoning: "Outlining a short document with a list and an example."},
		{Content: "# Draft"},
		{Content: ": " + topic + "\n"},
		{Content: "\nOne-line summary: **"},
		{Content: topic + "**."},
		{Content: "\n\nKey points:\n"},
		{Content: "- keep the first version small\n"},
		{Content: "- ship `v1`, then iterate\n"},
		{Content: "\n``"},
		{Content: "`go\nfmt.Println(\"ok\")\n"},
		{Content: "```\n"},
		{Content: "\nDone."},
		{Content: "</answer>"},
	}
}
