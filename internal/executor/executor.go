// Package executor fans a set of per-cell SplitRequests out as parallel
// tasks and collects their results under a two-phase adaptive deadline:
// a generous deadline until the first success, then a short one for the
// stragglers once good data exists.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mohammed-shakir/synapse-gateway/internal/ingesterr"
	"github.com/mohammed-shakir/synapse-gateway/internal/model"
	"github.com/mohammed-shakir/synapse-gateway/internal/obsv"
	"github.com/mohammed-shakir/synapse-gateway/internal/upstreamclient"
)

// Sender sends one split request to its cell and returns the collected
// response or a typed error. *upstreamclient.Client satisfies this shape.
type Sender interface {
	Send(ctx context.Context, cellID, baseURL, method, path, rawQuery string, header http.Header, body []byte, timeout time.Duration) (*upstreamclient.Response, error)
}

// Timeouts bounds the per-call HTTP timeout and the two-phase collection
// deadlines. TaskInitial must be >= HTTP (checked at config validation).
type Timeouts struct {
	HTTP           time.Duration
	TaskInitial    time.Duration
	TaskSubsequent time.Duration
}

// Executor dispatches SplitRequests concurrently and collects outcomes.
type Executor struct {
	sender Sender
	logger *slog.Logger
}

// New constructs an Executor around sender.
func New(sender Sender, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{sender: sender, logger: logger}
}

type taskOutcome struct {
	index  int
	result model.UpstreamTaskResult
}

// Execute dispatches one task per SplitRequest and collects results under
// the two-phase deadline described in spec.md §4.3/§4.6. method/path/query/
// header are shared across every sub-request; only the body differs.
func (e *Executor) Execute(ctx context.Context, handlerName string, splits []model.SplitRequest, method, path, query string, header http.Header, t Timeouts) []model.UpstreamTaskResult {
	start := time.Now()
	defer func() { obsv.ObserveFanout(handlerName, time.Since(start)) }()

	if len(splits) == 0 {
		return nil
	}

	results := make(chan taskOutcome, len(splits))
	pending := make(map[int]model.SplitRequest, len(splits))
	for i, sr := range splits {
		pending[i] = sr
		go e.runTask(ctx, i, sr, method, path, query, header, t.HTTP, results)
	}

	deadline := time.NewTimer(t.TaskInitial)
	defer deadline.Stop()

	collected := make([]model.UpstreamTaskResult, 0, len(splits))
	sawSuccess := false

	for len(pending) > 0 {
		select {
		case out := <-results:
			delete(pending, out.index)
			collected = append(collected, out.result)
			if out.result.Ok() && out.result.Response.Success() && !sawSuccess {
				sawSuccess = true
				if !deadline.Stop() {
					select {
					case <-deadline.C:
					default:
					}
				}
				deadline.Reset(t.TaskSubsequent)
			}
		case <-deadline.C:
			remaining := e.drainAborted(results, pending)
			collected = append(collected, remaining...)
			obsv.IncPending("timeout", countPending(remaining))
			return collected
		case <-ctx.Done():
			remaining := e.drainAborted(results, pending)
			collected = append(collected, remaining...)
			obsv.IncPending("abort", countPending(remaining))
			return collected
		}
	}

	return collected
}

func countPending(results []model.UpstreamTaskResult) int {
	n := 0
	for _, r := range results {
		if r.Ok() && r.Response.Success() {
			continue
		}
		n += len(r.Identifiers)
	}
	return n
}

// drainAborted gives in-flight tasks a brief grace window to report their
// real outcome, then synthesizes a timeout result for whatever is still
// running so the handler can route those identifiers to pending. pending is
// the task→split handle for everything still outstanding when the deadline
// fired; it lets a synthesized result carry the real CellID/Identifiers of
// the task it stands in for, instead of losing them. This is fire-and-forget
// abort: aborted task bodies may still run to completion on their own
// goroutine, but the executor stops waiting on them.
func (e *Executor) drainAborted(results <-chan taskOutcome, pending map[int]model.SplitRequest) []model.UpstreamTaskResult {
	out := make([]model.UpstreamTaskResult, 0, len(pending))
	grace := time.NewTimer(5 * time.Millisecond)
	defer grace.Stop()

	for len(pending) > 0 {
		select {
		case o := <-results:
			delete(pending, o.index)
			out = append(out, o.result)
		case <-grace.C:
			for _, sr := range pending {
				out = append(out, model.UpstreamTaskResult{
					CellID:      sr.CellID,
					Identifiers: sr.Identifiers,
					Err:         &ingesterr.UpstreamTimeout{Cell: sr.CellID},
				})
			}
			return out
		}
	}
	return out
}

func (e *Executor) runTask(ctx context.Context, index int, sr model.SplitRequest, method, path, query string, header http.Header, httpTimeout time.Duration, results chan<- taskOutcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("fan-out task panicked", "cell", sr.CellID, "panic", fmt.Sprint(r))
			results <- taskOutcome{index: index, result: model.UpstreamTaskResult{
				CellID:      sr.CellID,
				Identifiers: sr.Identifiers,
				Err:         fmt.Errorf("task panic: %v", r),
			}}
		}
	}()

	start := time.Now()
	resp, err := e.sender.Send(ctx, sr.CellID, sr.UpstreamURL, method, path, query, header, sr.Body, httpTimeout)
	if err != nil {
		obsv.ObserveUpstream(sr.CellID, "error", time.Since(start))
		e.logger.Info("fan-out task done", "cell", sr.CellID, "outcome", "error", "duration_ms", time.Since(start).Milliseconds(), "err", err)
		results <- taskOutcome{index: index, result: model.UpstreamTaskResult{
			CellID:      sr.CellID,
			Identifiers: sr.Identifiers,
			Err:         err,
		}}
		return
	}

	obsv.ObserveUpstream(sr.CellID, "ok", time.Since(start))
	e.logger.Info("fan-out task done", "cell", sr.CellID, "outcome", "ok", "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())
	results <- taskOutcome{index: index, result: model.UpstreamTaskResult{
		CellID:      sr.CellID,
		Identifiers: sr.Identifiers,
		Response: &model.UpstreamResponse{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       resp.Body,
		},
	}}
}
