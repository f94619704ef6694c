// Package docgen runs document-generation turns. A turn streams model
// deltas through the coalescing buffer into two places at once: the client
// transport and a server-side markdown renderer that keeps an authoritative
// copy of the document being written.
package docgen

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/okempf/inkstream/internal/document"
	"github.com/okempf/inkstream/internal/llm"
	"github.com/okempf/inkstream/internal/observability"
	"github.com/okempf/inkstream/internal/protocol"
	"github.com/okempf/inkstream/internal/session"
	"github.com/okempf/inkstream/internal/stream"
	"github.com/okempf/inkstream/internal/transcript"
)

type Orchestrator struct {
	sessions      *session.Manager
	backend       llm.Backend
	transcripts   transcript.Store
	metrics       *observability.Metrics
	streamCfg     stream.Config
	firstFlushSLO time.Duration
	contextTurns  int

	docMu sync.RWMutex
	docs  map[string]*document.Doc
}

func NewOrchestrator(
	sessions *session.Manager,
	backend llm.Backend,
	transcripts transcript.Store,
	metrics *observability.Metrics,
	streamCfg stream.Config,
	firstFlushSLO time.Duration,
	contextTurns int,
) *Orchestrator {
	return &Orchestrator{
		sessions:      sessions,
		backend:       backend,
		transcripts:   transcripts,
		metrics:       metrics,
		streamCfg:     streamCfg,
		firstFlushSLO: firstFlushSLO,
		contextTurns:  contextTurns,
		docs:          make(map[string]*document.Doc),
	}
}

// Document returns the live document for a session, if any turn has run.
func (o *Orchestrator) Document(sessionID string) (*document.Doc, bool) {
	o.docMu.RLock()
	defer o.docMu.RUnlock()
	doc, ok := o.docs[sessionID]
	return doc, ok
}

// DropSession forgets the session's document. Wired to session end and
// janitor expiry.
func (o *Orchestrator) DropSession(sessionID string) {
	o.docMu.Lock()
	doc := o.docs[sessionID]
	delete(o.docs, sessionID)
	o.docMu.Unlock()
	if doc != nil {
		doc.Close()
	}
}

func (o *Orchestrator) registerDocument(sessionID string, doc *document.Doc) {
	o.docMu.Lock()
	old := o.docs[sessionID]
	o.docs[sessionID] = doc
	o.docMu.Unlock()
	if old != nil && old != doc {
		old.Close()
	}
}

// RunSession is the duplex loop behind one websocket connection: prompts
// launch turns, controls steer the turn in flight. Turns run one at a time;
// a fresh prompt supersedes a turn that is still streaming.
func (o *Orchestrator) RunSession(ctx context.Context, s *session.Session, inbound <-chan any, outbound chan<- any) error {
	var (
		turnMu      sync.Mutex
		turnCancel  context.CancelFunc
		activeToken int64
		nextToken   int64
	)

	cancelActiveTurn := func() bool {
		turnMu.Lock()
		cancel := turnCancel
		turnCancel = nil
		activeToken = 0
		turnMu.Unlock()
		if cancel != nil {
			cancel()
			return true
		}
		return false
	}

	emit := func(msg any) {
		o.send(outbound, msg)
	}

	for {
		select {
		case <-ctx.Done():
			cancelActiveTurn()
			return nil
		case msg, ok := <-inbound:
			if !ok {
				cancelActiveTurn()
				return nil
			}
			switch m := msg.(type) {
			case protocol.ClientPrompt:
				_ = o.sessions.Touch(s.ID)
				prompt := strings.TrimSpace(m.Prompt)
				if prompt == "" {
					continue
				}

				turnMu.Lock()
				busy := turnCancel != nil
				turnMu.Unlock()
				if busy {
					_ = o.sessions.Abort(s.ID)
					o.metrics.MarkIndicator("turn_superseded")
					cancelActiveTurn()
				}

				turnCtx, cancel := context.WithCancel(ctx)
				turnMu.Lock()
				nextToken++
				token := nextToken
				turnCancel = cancel
				activeToken = token
				turnMu.Unlock()

				go func(prompt string, token int64) {
					defer func() {
						turnMu.Lock()
						if activeToken == token {
							turnCancel = nil
							activeToken = 0
						}
						turnMu.Unlock()
					}()
					if _, err := o.RunTurn(turnCtx, s, prompt, emit); err != nil {
						o.metrics.SessionEvents.WithLabelValues("turn_failed").Inc()
					}
				}(prompt, token)
			case protocol.ClientControl:
				_ = o.sessions.Touch(s.ID)
				switch m.Action {
				case "abort":
					_ = o.sessions.Abort(s.ID)
					cancelActiveTurn()
				case "ping":
					emit(protocol.SystemEvent{
						Type:      protocol.TypeSystemEvent,
						SessionID: s.ID,
						Code:      "pong",
					})
				default:
					emit(protocol.ErrorEvent{
						Type:      protocol.TypeErrorEvent,
						SessionID: s.ID,
						Code:      "unsupported_control",
						Source:    "orchestrator",
						Retryable: false,
						Detail:    fmt.Sprintf("unknown control action %q", m.Action),
					})
				}
			default:
				o.metrics.SessionEvents.WithLabelValues("inbound_dropped").Inc()
			}
		}
	}
}

// send offers a message to the outbound channel without ever blocking the
// turn pipeline for long. Lifecycle events get a grace window; delta bursts
// are dropped under backpressure and the client recovers from the sequence
// gap by refetching the document snapshot.
func (o *Orchestrator) send(outbound chan<- any, msg any) {
	msgType, critical := outboundMessageMeta(msg)

	if critical {
		timer := time.NewTimer(600 * time.Millisecond)
		defer timer.Stop()
		select {
		case outbound <- msg:
			o.metrics.ObserveOutboundMessage(msgType, "delivered")
		case <-timer.C:
			o.metrics.ObserveOutboundMessage(msgType, "timeout")
			o.metrics.SessionEvents.WithLabelValues("outbound_drop").Inc()
		}
		return
	}

	select {
	case outbound <- msg:
		o.metrics.ObserveOutboundMessage(msgType, "delivered")
	default:
		o.metrics.ObserveOutboundMessage(msgType, "dropped")
		o.metrics.SessionEvents.WithLabelValues("outbound_drop").Inc()
	}
}

func outboundMessageMeta(msg any) (msgType string, critical bool) {
	switch msg.(type) {
	case protocol.TurnStarted:
		return string(protocol.TypeTurnStarted), true
	case protocol.DocumentDelta:
		return string(protocol.TypeDocumentDelta), false
	case protocol.TurnCompleted:
		return string(protocol.TypeTurnCompleted), true
	case protocol.ErrorEvent:
		return string(protocol.TypeErrorEvent), true
	case protocol.SystemEvent:
		return string(protocol.TypeSystemEvent), false
	default:
		return "unknown", false
	}
}
