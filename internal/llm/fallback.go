package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var errPrimaryAbandoned = errors.New("primary backend abandoned")

// FallbackBackend tries a primary backend and replays the request on a
// secondary when the primary fails or stalls before producing any output.
// Once the primary has delivered a delta it owns the turn: content already
// reached the client, so a later failure is surfaced rather than retried.
type FallbackBackend struct {
	primary           Backend
	secondary         Backend
	firstDeltaTimeout time.Duration
}

func NewFallbackBackend(primary, secondary Backend) *FallbackBackend {
	return &FallbackBackend{
		primary:           primary,
		secondary:         secondary,
		firstDeltaTimeout: 2 * time.Second,
	}
}

func (f *FallbackBackend) StreamDocument(
	ctx context.Context,
	req Request,
	onDelta DeltaHandler,
) (Response, error) {
	if f.primary == nil && f.secondary == nil {
		return Response{}, errors.New("fallback backend misconfigured")
	}
	if f.primary == nil {
		return f.secondary.StreamDocument(ctx, req, onDelta)
	}
	if f.secondary == nil {
		return f.primary.StreamDocument(ctx, req, onDelta)
	}

	primaryCtx, cancelPrimary := context.WithCancel(ctx)
	defer cancelPrimary()

	type result struct {
		resp Response
		err  error
	}

	firstDeltaCh := make(chan struct{})
	var firstDeltaOnce sync.Once
	var acceptPrimaryDeltas atomic.Bool
	acceptPrimaryDeltas.Store(true)
	resultCh := make(chan result, 1)

	go func() {
		resp, err := f.primary.StreamDocument(primaryCtx, req, func(delta Delta) error {
			firstDeltaOnce.Do(func() {
				close(firstDeltaCh)
			})
			if !acceptPrimaryDeltas.Load() {
				return errPrimaryAbandoned
			}
			if onDelta == nil {
				return nil
			}
			return onDelta(delta)
		})
		resultCh <- result{resp: resp, err: err}
	}()

	timer := time.NewTimer(f.firstDeltaTimeout)
	defer timer.Stop()

	select {
	case <-firstDeltaCh:
		primary := <-resultCh
		return primary.resp, primary.err
	case primary := <-resultCh:
		select {
		case <-firstDeltaCh:
			// output already reached the client; the primary owns the turn
			return primary.resp, primary.err
		default:
		}
		if primary.err == nil {
			return primary.resp, nil
		}
		if errors.Is(primary.err, context.Canceled) || errors.Is(primary.err, context.DeadlineExceeded) {
			return Response{}, primary.err
		}
		return f.runSecondary(ctx, req, onDelta, primary.err)
	case <-timer.C:
		acceptPrimaryDeltas.Store(false)
		cancelPrimary()
		return f.runSecondary(ctx, req, onDelta,
			fmt.Errorf("no output within %s", f.firstDeltaTimeout))
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

func (f *FallbackBackend) runSecondary(
	ctx context.Context,
	req Request,
	onDelta DeltaHandler,
	primaryErr error,
) (Response, error) {
	resp, err := f.secondary.StreamDocument(ctx, req, onDelta)
	if err != nil {
		return Response{}, fmt.Errorf("primary backend error: %w; fallback backend error: %v", primaryErr, err)
	}
	return resp, nil
}
