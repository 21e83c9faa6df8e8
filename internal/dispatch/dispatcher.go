// ABOUTME: Fan-out coordinator issuing concurrent sub-queries to selected providers.
// ABOUTME: One flight per Ask call with per-provider timeouts and an overall deadline.

package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nlweb/nlweb-gateway/internal/matcher"
	"github.com/nlweb/nlweb-gateway/internal/registry"
	"github.com/nlweb/nlweb-gateway/internal/schema"
)

// Status is the terminal status of one provider sub-query.
type Status string

const (
	StatusOK      Status = "OK"
	StatusTimeout Status = "TIMEOUT"
	StatusError   Status = "ERROR"
	StatusPartial Status = "PARTIAL"
)

// SubResult is the outcome of one provider sub-query. The terminal status
// is set exactly once and never regresses.
type SubResult struct {
	ProviderID string
	Items      []schema.ResultItem
	Latency    time.Duration
	Status     Status
	Err        string

	finalized bool
}

// finalize records the terminal status. Later calls are ignored so a
// result can never move away from its first terminal state.
func (r *SubResult) finalize(s Status, errMsg string) {
	if r.finalized {
		return
	}
	r.finalized = true
	r.Status = s
	r.Err = errMsg
}

// Caller issues one sub-query against a provider endpoint. The partial
// flag reports a provider that answered with a truncated item set.
type Caller interface {
	Query(ctx context.Context, p registry.Provider, req *schema.AskRequest) (items []schema.ResultItem, partial bool, err error)
}

// Config holds fan-out tuning knobs.
type Config struct {
	PerProviderTimeout time.Duration
	OverallDeadline    time.Duration
	// MaxFanoutWidth bounds concurrent sub-queries; candidates beyond the
	// width are dropped lowest-score-first. Zero means unbounded.
	MaxFanoutWidth int
}

// Dispatcher fans one query out to a selected provider set.
type Dispatcher struct {
	caller Caller
	cfg    Config
	logger *slog.Logger
}

// New creates a Dispatcher.
func New(caller Caller, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.PerProviderTimeout <= 0 {
		cfg.PerProviderTimeout = 2 * time.Second
	}
	if cfg.OverallDeadline <= 0 {
		cfg.OverallDeadline = 10 * time.Second
	}
	return &Dispatcher{caller: caller, cfg: cfg, logger: logger}
}

// flight states, strictly forward-only.
type flightState int32

const (
	statePending flightState = iota
	stateDispatched
	stateCollecting
	stateAggregating
	stateDone
)

var stateNames = map[flightState]string{
	statePending:     "PENDING",
	stateDispatched:  "DISPATCHED",
	stateCollecting:  "COLLECTING",
	stateAggregating: "AGGREGATING",
	stateDone:        "DONE",
}

// flight tracks the state machine of one in-flight Ask call.
type flight struct {
	state  atomic.Int32
	logger *slog.Logger
}

// advance moves the flight forward. Backward transitions are ignored,
// keeping the machine monotonic even under racy signals.
func (f *flight) advance(to flightState) {
	for {
		cur := flightState(f.state.Load())
		if to <= cur {
			return
		}
		if f.state.CompareAndSwap(int32(cur), int32(to)) {
			f.logger.Debug("flight state", "from", stateNames[cur], "to", stateNames[to])
			return
		}
	}
}

// Dispatch fans the query out to the matched providers. It returns the
// actually selected matches (after fan-out width trimming) and a channel
// that yields exactly one SubResult per selected provider, then closes.
// Results arrive in provider-completion order.
//
// A provider exceeding the per-provider timeout gets status TIMEOUT and
// stops blocking the rest; expiry of the overall deadline marks remaining
// in-flight providers TIMEOUT via context propagation. If the caller's
// context is cancelled, outstanding sub-queries are signaled to stop and
// no further results are emitted.
func (d *Dispatcher) Dispatch(ctx context.Context, req *schema.AskRequest, matches []matcher.Match) ([]matcher.Match, <-chan SubResult) {
	selected := matches
	if d.cfg.MaxFanoutWidth > 0 && len(selected) > d.cfg.MaxFanoutWidth {
		// Matches arrive sorted by score descending, so trimming the tail
		// implements the drop-lowest-score policy.
		d.logger.Debug("fan-out width exceeded",
			"candidates", len(selected),
			"width", d.cfg.MaxFanoutWidth,
		)
		selected = selected[:d.cfg.MaxFanoutWidth]
	}

	results := make(chan SubResult, len(selected))
	if len(selected) == 0 {
		close(results)
		return selected, results
	}

	f := &flight{logger: d.logger.With("correlation_id", req.CorrelationID)}
	flightCtx, cancel := context.WithTimeout(ctx, d.cfg.OverallDeadline)

	f.advance(stateDispatched)
	var wg sync.WaitGroup
	for _, m := range selected {
		wg.Add(1)
		go func(m matcher.Match) {
			defer wg.Done()
			d.querySubProvider(ctx, flightCtx, req, m.Provider, results)
		}(m)
	}
	f.advance(stateCollecting)

	go func() {
		defer cancel()
		wg.Wait()
		f.advance(stateAggregating)
		close(results)
		f.advance(stateDone)
	}()

	return selected, results
}

// querySubProvider runs one sub-query and emits its SubResult. parent is
// the caller's context; when it is cancelled nothing is emitted.
func (d *Dispatcher) querySubProvider(parent, flightCtx context.Context, req *schema.AskRequest, p registry.Provider, results chan<- SubResult) {
	pctx, cancel := context.WithTimeout(flightCtx, d.cfg.PerProviderTimeout)
	defer cancel()

	start := time.Now()
	items, partial, err := d.caller.Query(pctx, p, req)
	latency := time.Since(start)

	res := SubResult{
		ProviderID: p.ID,
		Latency:    latency,
	}

	switch {
	case err == nil && partial:
		res.Items = items
		res.finalize(StatusPartial, "")
	case err == nil:
		res.Items = items
		res.finalize(StatusOK, "")
	case errors.Is(err, context.DeadlineExceeded):
		res.finalize(StatusTimeout, "provider timed out")
	case errors.Is(err, context.Canceled):
		if parent.Err() != nil {
			// Caller cancelled the whole Ask: release quietly.
			return
		}
		res.finalize(StatusError, err.Error())
	default:
		res.finalize(StatusError, err.Error())
	}

	if parent.Err() != nil {
		return
	}

	d.logger.Debug("sub-query finished",
		"provider_id", p.ID,
		"status", res.Status,
		"items", len(res.Items),
		"latency", latency,
	)
	results <- res
}
