package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const systemPrompt = "You write complete, well-structured markdown documents. " +
	"End the document with </answer>."

// StatusError reports a non-2xx backend response; the status code feeds
// retryability classification.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm backend status %d: %s", e.Status, e.Body)
}

// HTTPBackend talks to an OpenAI-compatible chat completions endpoint and
// streams delta content back.
type HTTPBackend struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewHTTPBackend(baseURL, apiKey, model string) *HTTPBackend {
	return &HTTPBackend{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		model:   strings.TrimSpace(model),
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (b *HTTPBackend) StreamDocument(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	payload, err := json.Marshal(b.buildRequest(req))
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	res, err := b.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Response{}, &StatusError{Status: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	contentType := strings.ToLower(res.Header.Get("Content-Type"))
	if strings.Contains(contentType, "text/event-stream") || strings.Contains(contentType, "application/x-ndjson") {
		return consumeStream(res.Body, onDelta)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	var full chatResponse
	if err := json.Unmarshal(body, &full); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if len(full.Choices) == 0 {
		return Response{}, nil
	}
	text := full.Choices[0].Message.Content
	if text != "" && onDelta != nil {
		if err := onDelta(Delta{Content: text}); err != nil {
			return Response{}, err
		}
	}
	return Response{Text: text}, nil
}

func (b *HTTPBackend) buildRequest(req Request) chatRequest {
	messages := make([]chatMessage, 0, len(req.Context)+2)
	messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	for _, prior := range req.Context {
		messages = append(messages, chatMessage{Role: "assistant", Content: prior})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})
	return chatRequest{Model: b.model, Messages: messages, Stream: true}
}

// consumeStream reads "data:" SSE lines (or bare NDJSON lines) until the
// [DONE] terminator, forwarding each delta in order.
func consumeStream(body io.Reader, onDelta DeltaHandler) (Response, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		if line == "[DONE]" {
			break
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil || len(chunk.Choices) == 0 {
			continue
		}
		delta := Delta{
			Content:   chunk.Choices[0].Delta.Content,
			Reasoning: chunk.Choices[0].Delta.ReasoningContent,
		}
		if delta.Content == "" && delta.Reasoning == "" {
			continue
		}
		out.WriteString(delta.Content)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return Response{}, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return Response{}, fmt.Errorf("stream read: %w", err)
	}

	return Response{Text: out.String()}, nil
}
