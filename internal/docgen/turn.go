package docgen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okempf/inkstream/internal/document"
	"github.com/okempf/inkstream/internal/llm"
	"github.com/okempf/inkstream/internal/observability"
	"github.com/okempf/inkstream/internal/policy"
	"github.com/okempf/inkstream/internal/protocol"
	"github.com/okempf/inkstream/internal/reliability"
	"github.com/okempf/inkstream/internal/render"
	"github.com/okempf/inkstream/internal/session"
	"github.com/okempf/inkstream/internal/stream"
	"github.com/okempf/inkstream/internal/transcript"
)

const (
	contextFetchTimeout   = 350 * time.Millisecond
	transcriptSaveTimeout = 2 * time.Second
	titleMaxRunes         = 64
)

// Turn outcomes reported in turn_completed events and transcript records.
const (
	ReasonCompleted = "completed"
	ReasonAborted   = "aborted"
	ReasonFailed    = "failed"
)

// TurnResult summarizes one finished turn.
type TurnResult struct {
	TurnID     string
	Reason     string
	Markdown   string
	FlushCount int
	Chars      int
	Elapsed    time.Duration
}

// RunTurn executes one prompt-to-document generation pass. It opens a fresh
// document for the session, streams backend deltas through the coalescing
// buffer to both the client and the server-side renderer, then settles the
// turn with a turn_completed event and a transcript record. Cancelling ctx
// aborts the turn; the partial document stays readable.
func (o *Orchestrator) RunTurn(ctx context.Context, s *session.Session, prompt string, emit func(any)) (TurnResult, error) {
	start := time.Now()
	turnID := uuid.NewString()
	result := TurnResult{TurnID: turnID, Reason: ReasonFailed}

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return result, errors.New("prompt is empty")
	}
	if emit == nil {
		emit = func(any) {}
	}

	_ = o.sessions.StartTurn(s.ID, turnID)
	_ = o.sessions.SetTitle(s.ID, titleFromPrompt(prompt))

	doc := document.NewDoc()
	proc := render.New(doc)
	o.registerDocument(s.ID, doc)

	emit(protocol.TurnStarted{
		Type:      protocol.TypeTurnStarted,
		SessionID: s.ID,
		TurnID:    turnID,
		TSMs:      start.UnixMilli(),
	})

	recent := o.recentContext(ctx, s.ID)

	var (
		flushCount   int
		charCount    int
		firstFlushAt time.Time
		lastFlushAt  time.Time
	)

	// The buffer serializes observer calls under its own lock, and the
	// final counter reads below happen after Destroy returns.
	observer := func(reason string, chars int) {
		now := time.Now()
		flushCount++
		charCount += chars
		if firstFlushAt.IsZero() {
			firstFlushAt = now
			d := now.Sub(start)
			o.metrics.ObserveFirstFlushLatency(d)
			o.metrics.ObserveStage(observability.StagePromptToFirstFlush, d)
			if o.firstFlushSLO > 0 && d > o.firstFlushSLO {
				o.metrics.MarkIndicator("first_flush_slo_miss")
			}
		} else {
			o.metrics.ObserveStage(observability.StageFlushInterval, now.Sub(lastFlushAt))
		}
		lastFlushAt = now
		o.metrics.ObserveFlush(reason, chars)
	}

	transport := stream.Sink(func(ev protocol.DocumentDelta) {
		emit(ev)
	})
	renderTap := stream.Sink(func(ev protocol.DocumentDelta) {
		if ev.Content == "" {
			return
		}
		if err := proc.Process(ev.Content); err != nil {
			o.metrics.MarkIndicator("render_error")
		}
	})

	buf := stream.New(stream.Fanout(transport, renderTap), protocol.DocumentDelta{
		SessionID: s.ID,
		TurnID:    turnID,
		Stage:     protocol.StageReasoning,
	}, stream.WithConfig(o.streamCfg), stream.WithObserver(observer))

	firstDelta := false
	answerStarted := false
	handleDelta := func(d llm.Delta) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !firstDelta && (d.Content != "" || d.Reasoning != "") {
			firstDelta = true
			o.metrics.ObserveStage(observability.StagePromptToFirstDelta, time.Since(start))
		}
		if !answerStarted && d.Content != "" {
			answerStarted = true
			buf.UpdateBase(func(ev *protocol.DocumentDelta) {
				ev.Stage = protocol.StageAnswer
			})
		}
		buf.Push(d.Content, d.Reasoning)
		return nil
	}

	resp, streamErr := o.backend.StreamDocument(ctx, llm.Request{
		SessionID: s.ID,
		TurnID:    turnID,
		Prompt:    prompt,
		Context:   recent,
	}, handleDelta)
	buf.Destroy()

	elapsed := time.Since(start)
	markdown := doc.Markdown()

	reason := ReasonCompleted
	var failErr error
	switch {
	case streamErr == nil:
		if !proc.Ended() {
			o.metrics.MarkIndicator("missing_end_sentinel")
		}
		if strings.TrimSpace(resp.Text) == "" {
			o.metrics.MarkIndicator("empty_model_output")
		}
		o.metrics.ObserveStage(observability.StageTurnTotal, elapsed)
	case ctx.Err() != nil:
		reason = ReasonAborted
		o.metrics.MarkIndicator("turn_aborted")
	default:
		reason = ReasonFailed
		failErr = streamErr
		code, retryable := classifyBackendError(streamErr)
		o.metrics.ProviderErrors.WithLabelValues("llm", code).Inc()
		emit(protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: s.ID,
			Code:      code,
			Source:    "llm",
			Retryable: retryable,
			Detail:    streamErr.Error(),
		})
	}

	o.metrics.Turns.WithLabelValues(reason).Inc()
	_ = o.sessions.CompleteTurn(s.ID, turnID)

	emit(protocol.TurnCompleted{
		Type:       protocol.TypeTurnCompleted,
		SessionID:  s.ID,
		TurnID:     turnID,
		Reason:     reason,
		FlushCount: flushCount,
		Chars:      charCount,
		ElapsedMs:  elapsed.Milliseconds(),
	})

	redactedPrompt, promptChanged := policy.RedactPII(prompt)
	redactedMarkdown, markdownChanged := policy.RedactPII(markdown)
	o.saveTurnBestEffort(transcript.TurnRecord{
		ID:          uuid.NewString(),
		SessionID:   s.ID,
		TurnID:      turnID,
		UserID:      s.UserID,
		Prompt:      redactedPrompt,
		Markdown:    redactedMarkdown,
		Status:      reason,
		FlushCount:  flushCount,
		Chars:       charCount,
		ElapsedMS:   elapsed.Milliseconds(),
		PIIRedacted: promptChanged || markdownChanged,
		CreatedAt:   time.Now().UTC(),
	})

	result.Reason = reason
	result.Markdown = markdown
	result.FlushCount = flushCount
	result.Chars = charCount
	result.Elapsed = elapsed
	if failErr != nil {
		return result, fmt.Errorf("stream document: %w", failErr)
	}
	return result, nil
}

// recentContext pulls the session's prior completed document revisions to
// feed back as generation context. Best effort with a hard deadline: a slow
// store should delay a turn by at most contextFetchTimeout.
func (o *Orchestrator) recentContext(ctx context.Context, sessionID string) []string {
	if o.transcripts == nil || o.contextTurns <= 0 {
		return nil
	}
	fetchCtx, cancel := context.WithTimeout(ctx, contextFetchTimeout)
	defer cancel()

	records, err := o.transcripts.RecentTurns(fetchCtx, sessionID, o.contextTurns)
	if err != nil {
		o.metrics.SessionEvents.WithLabelValues("context_fetch_failed").Inc()
		return nil
	}
	out := make([]string, 0, len(records))
	for _, r := range records {
		if r.Status != ReasonCompleted || strings.TrimSpace(r.Markdown) == "" {
			continue
		}
		out = append(out, r.Markdown)
	}
	return out
}

func (o *Orchestrator) saveTurnBestEffort(record transcript.TurnRecord) {
	if o.transcripts == nil {
		return
	}
	go func(r transcript.TurnRecord) {
		saveCtx, cancel := context.WithTimeout(context.Background(), transcriptSaveTimeout)
		defer cancel()
		if err := o.transcripts.SaveTurn(saveCtx, r); err != nil {
			o.metrics.SessionEvents.WithLabelValues("transcript_save_failed").Inc()
		}
	}(record)
}

func classifyBackendError(err error) (code string, retryable bool) {
	var statusErr *llm.StatusError
	if errors.As(err, &statusErr) {
		return fmt.Sprintf("http_%d", statusErr.Status), reliability.IsRetryableHTTPStatus(statusErr.Status)
	}
	return reliability.ClassifyError(err)
}

func titleFromPrompt(prompt string) string {
	line := prompt
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.Join(strings.Fields(line), " ")
	runes := []rune(line)
	if len(runes) > titleMaxRunes {
		line = string(runes[:titleMaxRunes-1]) + "…"
	}
	return line
}
