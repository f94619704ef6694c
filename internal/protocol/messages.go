package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientPrompt  MessageType = "client_prompt"
	TypeClientControl MessageType = "client_control"
	TypeTurnStarted   MessageType = "turn_started"
	TypeDocumentDelta MessageType = "document_delta"
	TypeTurnCompleted MessageType = "turn_completed"
	TypeSystemEvent   MessageType = "system_event"
	TypeErrorEvent    MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

// Stage values for DocumentDelta: whether the turn is still in the model's
// thinking phase or already producing document text.
const (
	StageReasoning = "reasoning"
	StageAnswer    = "answer"
)

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientPrompt struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Prompt    string      `json:"prompt"`
	TSMs      int64       `json:"ts_ms"`
}

type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
}

type TurnStarted struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    string      `json:"turn_id"`
	TSMs      int64       `json:"ts_ms"`
}

// DocumentDelta carries one coalesced slice of generated output. Content is
// displayable document text; ReasoningContent is the model's thinking
// channel. Seq increases by one per flush within a turn.
type DocumentDelta struct {
	Type             MessageType `json:"type"`
	SessionID        string      `json:"session_id"`
	TurnID           string      `json:"turn_id"`
	Seq              int         `json:"seq"`
	Stage            string      `json:"stage,omitempty"`
	Content          string      `json:"content"`
	ReasoningContent string      `json:"reasoning_content,omitempty"`
}

type TurnCompleted struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	TurnID     string      `json:"turn_id"`
	Reason     string      `json:"reason"`
	FlushCount int         `json:"flush_count"`
	Chars      int         `json:"chars"`
	ElapsedMs  int64       `json:"elapsed_ms"`
}

type SystemEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientPrompt:
		var msg ClientPrompt
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Prompt == "" {
			return nil, errors.New("invalid client_prompt")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
