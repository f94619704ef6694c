package docgen

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/okempf/inkstream/internal/llm"
	"github.com/okempf/inkstream/internal/observability"
	"github.com/okempf/inkstream/internal/protocol"
	"github.com/okempf/inkstream/internal/session"
	"github.com/okempf/inkstream/internal/stream"
	"github.com/okempf/inkstream/internal/transcript"
)

// One registry per test binary; promauto instruments register globally.
var testMetrics = observability.NewMetrics("docgen_test")

type scriptedBackend struct {
	mu       sync.Mutex
	deltas   []llm.Delta
	delay    time.Duration
	finalErr error
	requests []llm.Request
}

func (b *scriptedBackend) StreamDocument(ctx context.Context, req llm.Request, onDelta llm.DeltaHandler) (llm.Response, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	deltas := append([]llm.Delta(nil), b.deltas...)
	delay := b.delay
	finalErr := b.finalErr
	b.mu.Unlock()

	var text strings.Builder
	for _, d := range deltas {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return llm.Response{Text: text.String()}, ctx.Err()
			case <-time.After(delay):
			}
		}
		if err := onDelta(d); err != nil {
			return llm.Response{Text: text.String()}, err
		}
		text.WriteString(d.Content)
	}
	if finalErr != nil {
		return llm.Response{Text: text.String()}, finalErr
	}
	return llm.Response{Text: text.String()}, nil
}

func (b *scriptedBackend) capturedRequests() []llm.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]llm.Request(nil), b.requests...)
}

func docScript() []llm.Delta {
	return []llm.Delta{
		{Reasoning: "Thinking about structure."},
		{Content: "# Launch Plan\n"},
		{Content: "- scope the beta\n"},
		{Content: "- pick a date\n"},
		{Content: "Done."},
		{Content: "</answer>"},
	}
}

// immediateStreamConfig flushes every pushed delta synchronously so tests
// never depend on timer goroutines.
func immediateStreamConfig() stream.Config {
	return stream.Config{
		BufferTime:         10 * time.Second,
		MaxBufferSize:      1,
		FlushOnPunctuation: false,
		FlushOnNewline:     false,
		MaxWait:            10 * time.Second,
	}
}

func newTestOrchestrator(backend llm.Backend) (*Orchestrator, *session.Manager, *transcript.InMemoryStore) {
	sessions := session.NewManager(time.Minute)
	store := transcript.NewInMemoryStore()
	o := NewOrchestrator(sessions, backend, store, testMetrics, immediateStreamConfig(), time.Second, 4)
	return o, sessions, store
}

func waitForTranscript(t *testing.T, store transcript.Store, sessionID string, want int) []transcript.TurnRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		turns, err := store.RecentTurns(context.Background(), sessionID, 10)
		if err != nil {
			t.Fatalf("RecentTurns() error = %v", err)
		}
		if len(turns) >= want {
			return turns
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("transcript never reached %d records", want)
	return nil
}

func TestRunTurnCompletesAndRendersDocument(t *testing.T) {
	backend := &scriptedBackend{deltas: docScript()}
	o, sessions, store := newTestOrchestrator(backend)
	s := sessions.Create("u1", "")

	var events []any
	result, err := o.RunTurn(context.Background(), s, "write a launch plan", func(msg any) {
		events = append(events, msg)
	})
	if err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if result.Reason != ReasonCompleted {
		t.Fatalf("Reason = %q, want %q", result.Reason, ReasonCompleted)
	}
	if result.FlushCount == 0 || result.Chars == 0 {
		t.Fatalf("result counters = %d flushes / %d chars, want nonzero", result.FlushCount, result.Chars)
	}

	if len(events) < 3 {
		t.Fatalf("len(events) = %d, want at least started+delta+completed", len(events))
	}
	started, ok := events[0].(protocol.TurnStarted)
	if !ok {
		t.Fatalf("events[0] = %T, want TurnStarted", events[0])
	}
	if started.TurnID != result.TurnID {
		t.Fatalf("started.TurnID = %q, want %q", started.TurnID, result.TurnID)
	}
	completed, ok := events[len(events)-1].(protocol.TurnCompleted)
	if !ok {
		t.Fatalf("last event = %T, want TurnCompleted", events[len(events)-1])
	}
	if completed.Reason != ReasonCompleted || completed.FlushCount != result.FlushCount {
		t.Fatalf("completed = %+v, want completed with %d flushes", completed, result.FlushCount)
	}

	wantSeq := 0
	for _, ev := range events[1 : len(events)-1] {
		delta, ok := ev.(protocol.DocumentDelta)
		if !ok {
			t.Fatalf("mid event = %T, want DocumentDelta", ev)
		}
		if delta.Seq != wantSeq {
			t.Fatalf("delta.Seq = %d, want %d", delta.Seq, wantSeq)
		}
		wantSeq++
	}

	first := events[1].(protocol.DocumentDelta)
	if first.Stage != protocol.StageReasoning || first.ReasoningContent == "" {
		t.Fatalf("first delta = %+v, want reasoning stage content", first)
	}
	second := events[2].(protocol.DocumentDelta)
	if second.Stage != protocol.StageAnswer {
		t.Fatalf("second delta stage = %q, want %q", second.Stage, protocol.StageAnswer)
	}

	wantMarkdown := "# Launch Plan\n\n- scope the beta\n- pick a date\n\nDone.\n"
	if result.Markdown != wantMarkdown {
		t.Fatalf("Markdown = %q, want %q", result.Markdown, wantMarkdown)
	}

	doc, ok := o.Document(s.ID)
	if !ok {
		t.Fatalf("Document() did not find the session document")
	}
	if got := doc.Markdown(); got != wantMarkdown {
		t.Fatalf("registered document markdown = %q, want %q", got, wantMarkdown)
	}

	got, err := sessions.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.TurnCount != 1 || got.ActiveTurnID != "" {
		t.Fatalf("session after turn = %+v, want one completed turn", got)
	}
	if got.Title != "write a launch plan" {
		t.Fatalf("Title = %q, want prompt-derived title", got.Title)
	}

	turns := waitForTranscript(t, store, s.ID, 1)
	if turns[0].Status != ReasonCompleted || turns[0].Markdown != wantMarkdown {
		t.Fatalf("transcript record = %+v, want completed with rendered markdown", turns[0])
	}
}

func TestRunTurnAbortMidStreamKeepsPartialDocument(t *testing.T) {
	deltas := make([]llm.Delta, 0, 40)
	deltas = append(deltas, llm.Delta{Content: "# Partial\n"})
	for i := 0; i < 39; i++ {
		deltas = append(deltas, llm.Delta{Content: "more text "})
	}
	backend := &scriptedBackend{deltas: deltas, delay: 5 * time.Millisecond}
	o, _, store := newTestOrchestrator(backend)
	s := o.sessions.Create("u1", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var events []any
	var once sync.Once
	result, err := o.RunTurn(ctx, s, "write something long", func(msg any) {
		events = append(events, msg)
		if _, ok := msg.(protocol.DocumentDelta); ok {
			once.Do(cancel)
		}
	})
	if err != nil {
		t.Fatalf("RunTurn() error = %v, want nil for abort", err)
	}
	if result.Reason != ReasonAborted {
		t.Fatalf("Reason = %q, want %q", result.Reason, ReasonAborted)
	}
	if !strings.Contains(result.Markdown, "# Partial") {
		t.Fatalf("Markdown = %q, want partial heading preserved", result.Markdown)
	}

	completed, ok := events[len(events)-1].(protocol.TurnCompleted)
	if !ok || completed.Reason != ReasonAborted {
		t.Fatalf("last event = %+v, want aborted turn_completed", events[len(events)-1])
	}

	turns := waitForTranscript(t, store, s.ID, 1)
	if turns[0].Status != ReasonAborted {
		t.Fatalf("transcript status = %q, want %q", turns[0].Status, ReasonAborted)
	}
}

func TestRunTurnEmitsErrorEventOnBackendFailure(t *testing.T) {
	backend := &scriptedBackend{
		deltas:   []llm.Delta{{Content: "partial"}},
		finalErr: &llm.StatusError{Status: 503, Body: "overloaded"},
	}
	o, _, _ := newTestOrchestrator(backend)
	s := o.sessions.Create("u1", "")

	var events []any
	result, err := o.RunTurn(context.Background(), s, "write", func(msg any) {
		events = append(events, msg)
	})
	if err == nil {
		t.Fatalf("RunTurn() error = nil, want backend failure")
	}
	if result.Reason != ReasonFailed {
		t.Fatalf("Reason = %q, want %q", result.Reason, ReasonFailed)
	}

	var errEvent *protocol.ErrorEvent
	for _, ev := range events {
		if e, ok := ev.(protocol.ErrorEvent); ok {
			errEvent = &e
			break
		}
	}
	if errEvent == nil {
		t.Fatalf("no error_event emitted")
	}
	if errEvent.Code != "http_503" || !errEvent.Retryable || errEvent.Source != "llm" {
		t.Fatalf("error event = %+v, want retryable http_503 from llm", errEvent)
	}

	completed, ok := events[len(events)-1].(protocol.TurnCompleted)
	if !ok || completed.Reason != ReasonFailed {
		t.Fatalf("last event = %+v, want failed turn_completed", events[len(events)-1])
	}
}

func TestRunTurnFeedsPriorMarkdownAsContext(t *testing.T) {
	backend := &scriptedBackend{deltas: docScript()}
	o, _, store := newTestOrchestrator(backend)
	s := o.sessions.Create("u1", "")

	seed := []transcript.TurnRecord{
		{SessionID: s.ID, TurnID: "t0", Status: ReasonCompleted, Markdown: "# Before\n"},
		{SessionID: s.ID, TurnID: "t1", Status: ReasonAborted, Markdown: "# Dropped\n"},
	}
	for _, r := range seed {
		if err := store.SaveTurn(context.Background(), r); err != nil {
			t.Fatalf("SaveTurn() error = %v", err)
		}
	}

	if _, err := o.RunTurn(context.Background(), s, "revise the plan", func(any) {}); err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}

	reqs := backend.capturedRequests()
	if len(reqs) != 1 {
		t.Fatalf("len(requests) = %d, want 1", len(reqs))
	}
	if len(reqs[0].Context) != 1 || reqs[0].Context[0] != "# Before\n" {
		t.Fatalf("Context = %v, want only the completed prior revision", reqs[0].Context)
	}
}

func TestRunTurnRejectsEmptyPrompt(t *testing.T) {
	o, _, _ := newTestOrchestrator(&scriptedBackend{})
	s := o.sessions.Create("u1", "")

	if _, err := o.RunTurn(context.Background(), s, "   ", func(any) {}); err == nil {
		t.Fatalf("expected error for blank prompt")
	}
}

func TestDropSessionForgetsDocument(t *testing.T) {
	backend := &scriptedBackend{deltas: docScript()}
	o, _, _ := newTestOrchestrator(backend)
	s := o.sessions.Create("u1", "")

	if _, err := o.RunTurn(context.Background(), s, "write", func(any) {}); err != nil {
		t.Fatalf("RunTurn() error = %v", err)
	}
	if _, ok := o.Document(s.ID); !ok {
		t.Fatalf("document missing after turn")
	}

	o.DropSession(s.ID)
	if _, ok := o.Document(s.ID); ok {
		t.Fatalf("document still registered after DropSession")
	}
}

func TestClassifyBackendError(t *testing.T) {
	code, retryable := classifyBackendError(&llm.StatusError{Status: 429})
	if code != "http_429" || !retryable {
		t.Fatalf("classify 429 = (%q, %v), want (http_429, true)", code, retryable)
	}

	code, retryable = classifyBackendError(context.Canceled)
	if code != "canceled" || retryable {
		t.Fatalf("classify canceled = (%q, %v), want (canceled, false)", code, retryable)
	}

	code, retryable = classifyBackendError(errors.New("boom"))
	if code != "upstream_error" || retryable {
		t.Fatalf("classify generic = (%q, %v), want (upstream_error, false)", code, retryable)
	}
}

func TestTitleFromPrompt(t *testing.T) {
	got := titleFromPrompt("Write    a plan\nwith details")
	if got != "Write a plan" {
		t.Fatalf("titleFromPrompt = %q, want %q", got, "Write a plan")
	}

	long := strings.Repeat("word ", 30)
	got = titleFromPrompt(long)
	if len([]rune(got)) > titleMaxRunes {
		t.Fatalf("title length = %d runes, want <= %d", len([]rune(got)), titleMaxRunes)
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("truncated title = %q, want ellipsis suffix", got)
	}
}
