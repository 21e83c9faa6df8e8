// ABOUTME: Tests for the fan-out dispatcher: timeouts, errors, cancellation.
// ABOUTME: Uses a scriptable fake caller; covers partial-failure isolation.

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlweb/nlweb-gateway/internal/matcher"
	"github.com/nlweb/nlweb-gateway/internal/registry"
	"github.com/nlweb/nlweb-gateway/internal/schema"
)

// fakeCaller scripts per-provider behavior for dispatcher tests.
type fakeCaller struct {
	behaviors map[string]func(ctx context.Context) ([]schema.ResultItem, bool, error)
}

func (f *fakeCaller) Query(ctx context.Context, p registry.Provider, req *schema.AskRequest) ([]schema.ResultItem, bool, error) {
	b, ok := f.behaviors[p.ID]
	if !ok {
		return nil, false, fmt.Errorf("no behavior for %s", p.ID)
	}
	return b(ctx)
}

func respondWith(items ...schema.ResultItem) func(context.Context) ([]schema.ResultItem, bool, error) {
	return func(ctx context.Context) ([]schema.ResultItem, bool, error) {
		return items, false, nil
	}
}

func respondAfter(d time.Duration, items ...schema.ResultItem) func(context.Context) ([]schema.ResultItem, bool, error) {
	return func(ctx context.Context) ([]schema.ResultItem, bool, error) {
		select {
		case <-time.After(d):
			return items, false, nil
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}

func neverRespond() func(context.Context) ([]schema.ResultItem, bool, error) {
	return func(ctx context.Context) ([]schema.ResultItem, bool, error) {
		<-ctx.Done()
		return nil, false, ctx.Err()
	}
}

func matchFor(id string, score float64) matcher.Match {
	return matcher.Match{
		Provider: registry.Provider{ID: id, Name: id, Endpoint: "http://test/" + id},
		Score:    score,
	}
}

func item(id, provider string, confidence float64) schema.ResultItem {
	return schema.ResultItem{ID: id, Title: id, Confidence: confidence, SourceProvider: provider}
}

func collect(t *testing.T, ch <-chan SubResult) map[string]SubResult {
	t.Helper()
	out := make(map[string]SubResult)
	for res := range ch {
		_, dup := out[res.ProviderID]
		require.False(t, dup, "provider %s reported twice", res.ProviderID)
		out[res.ProviderID] = res
	}
	return out
}

func TestDispatch_AllProvidersRespond(t *testing.T) {
	caller := &fakeCaller{behaviors: map[string]func(context.Context) ([]schema.ResultItem, bool, error){
		"prov-a": respondWith(item("a1", "prov-a", 0.9)),
		"prov-b": respondWith(item("b1", "prov-b", 0.8), item("b2", "prov-b", 0.7)),
	}}
	d := New(caller, Config{PerProviderTimeout: time.Second, OverallDeadline: 2 * time.Second}, slog.Default())

	req := &schema.AskRequest{Query: "weather", CorrelationID: "corr-1"}
	selected, ch := d.Dispatch(context.Background(), req, []matcher.Match{matchFor("prov-a", 1), matchFor("prov-b", 0.5)})
	require.Len(t, selected, 2)

	results := collect(t, ch)
	require.Len(t, results, 2)
	assert.Equal(t, StatusOK, results["prov-a"].Status)
	assert.Equal(t, StatusOK, results["prov-b"].Status)
	assert.Len(t, results["prov-b"].Items, 2)
	assert.Greater(t, results["prov-a"].Latency, time.Duration(0))
}

// Provider A answers within the per-provider timeout, B never responds:
// A's result is unaffected and B is marked TIMEOUT.
func TestDispatch_SlowProviderDoesNotBlockOthers(t *testing.T) {
	caller := &fakeCaller{behaviors: map[string]func(context.Context) ([]schema.ResultItem, bool, error){
		"prov-a": respondAfter(50*time.Millisecond, item("a1", "prov-a", 0.9), item("a2", "prov-a", 0.8)),
		"prov-b": neverRespond(),
	}}
	d := New(caller, Config{PerProviderTimeout: 100 * time.Millisecond, OverallDeadline: time.Second}, slog.Default())

	req := &schema.AskRequest{Query: "weather"}
	_, ch := d.Dispatch(context.Background(), req, []matcher.Match{matchFor("prov-a", 1), matchFor("prov-b", 0.9)})

	results := collect(t, ch)
	require.Len(t, results, 2)
	assert.Equal(t, StatusOK, results["prov-a"].Status)
	assert.Len(t, results["prov-a"].Items, 2)
	assert.Equal(t, StatusTimeout, results["prov-b"].Status)
	assert.Empty(t, results["prov-b"].Items)
}

func TestDispatch_AllProvidersTimeout(t *testing.T) {
	caller := &fakeCaller{behaviors: map[string]func(context.Context) ([]schema.ResultItem, bool, error){
		"prov-a": neverRespond(),
		"prov-b": neverRespond(),
	}}
	d := New(caller, Config{PerProviderTimeout: 50 * time.Millisecond, OverallDeadline: time.Second}, slog.Default())

	_, ch := d.Dispatch(context.Background(), &schema.AskRequest{Query: "weather"}, []matcher.Match{matchFor("prov-a", 1), matchFor("prov-b", 0.9)})

	results := collect(t, ch)
	require.Len(t, results, 2)
	for id, res := range results {
		assert.Equal(t, StatusTimeout, res.Status, "provider %s", id)
	}
}

func TestDispatch_OverallDeadlineMarksRemainingTimeout(t *testing.T) {
	caller := &fakeCaller{behaviors: map[string]func(context.Context) ([]schema.ResultItem, bool, error){
		"prov-a": respondWith(item("a1", "prov-a", 0.9)),
		"prov-b": respondAfter(500 * time.Millisecond),
	}}
	// Per-provider timeout longer than the overall deadline: the deadline wins.
	d := New(caller, Config{PerProviderTimeout: 5 * time.Second, OverallDeadline: 100 * time.Millisecond}, slog.Default())

	_, ch := d.Dispatch(context.Background(), &schema.AskRequest{Query: "weather"}, []matcher.Match{matchFor("prov-a", 1), matchFor("prov-b", 0.9)})

	results := collect(t, ch)
	require.Len(t, results, 2)
	assert.Equal(t, StatusOK, results["prov-a"].Status)
	assert.Equal(t, StatusTimeout, results["prov-b"].Status)
}

func TestDispatch_ConnectionErrorIsolated(t *testing.T) {
	caller := &fakeCaller{behaviors: map[string]func(context.Context) ([]schema.ResultItem, bool, error){
		"prov-a": respondWith(item("a1", "prov-a", 0.9)),
		"prov-b": func(ctx context.Context) ([]schema.ResultItem, bool, error) {
			return nil, false, errors.New("connection refused")
		},
	}}
	d := New(caller, Config{PerProviderTimeout: time.Second, OverallDeadline: 2 * time.Second}, slog.Default())

	_, ch := d.Dispatch(context.Background(), &schema.AskRequest{Query: "weather"}, []matcher.Match{matchFor("prov-a", 1), matchFor("prov-b", 0.9)})

	results := collect(t, ch)
	require.Len(t, results, 2)
	assert.Equal(t, StatusOK, results["prov-a"].Status)
	assert.Equal(t, StatusError, results["prov-b"].Status)
	assert.Contains(t, results["prov-b"].Err, "connection refused")
}

func TestDispatch_PartialProviderResponse(t *testing.T) {
	caller := &fakeCaller{behaviors: map[string]func(context.Context) ([]schema.ResultItem, bool, error){
		"prov-a": func(ctx context.Context) ([]schema.ResultItem, bool, error) {
			return []schema.ResultItem{item("a1", "prov-a", 0.9)}, true, nil
		},
	}}
	d := New(caller, Config{PerProviderTimeout: time.Second, OverallDeadline: 2 * time.Second}, slog.Default())

	_, ch := d.Dispatch(context.Background(), &schema.AskRequest{Query: "weather"}, []matcher.Match{matchFor("prov-a", 1)})

	results := collect(t, ch)
	assert.Equal(t, StatusPartial, results["prov-a"].Status)
	assert.Len(t, results["prov-a"].Items, 1)
}

func TestDispatch_FanoutWidthDropsLowestScore(t *testing.T) {
	caller := &fakeCaller{behaviors: map[string]func(context.Context) ([]schema.ResultItem, bool, error){
		"prov-a": respondWith(item("a1", "prov-a", 0.9)),
		"prov-b": respondWith(item("b1", "prov-b", 0.8)),
		"prov-c": respondWith(item("c1", "prov-c", 0.7)),
	}}
	d := New(caller, Config{PerProviderTimeout: time.Second, OverallDeadline: 2 * time.Second, MaxFanoutWidth: 2}, slog.Default())

	// Matches sorted by score descending, as the matcher produces them.
	selected, ch := d.Dispatch(context.Background(), &schema.AskRequest{Query: "q"}, []matcher.Match{
		matchFor("prov-a", 1.0), matchFor("prov-b", 0.8), matchFor("prov-c", 0.2),
	})
	require.Len(t, selected, 2)
	assert.Equal(t, "prov-a", selected[0].Provider.ID)
	assert.Equal(t, "prov-b", selected[1].Provider.ID)

	results := collect(t, ch)
	require.Len(t, results, 2)
	assert.NotContains(t, results, "prov-c")
}

func TestDispatch_CallerCancellationEmitsNothing(t *testing.T) {
	caller := &fakeCaller{behaviors: map[string]func(context.Context) ([]schema.ResultItem, bool, error){
		"prov-a": neverRespond(),
		"prov-b": neverRespond(),
	}}
	d := New(caller, Config{PerProviderTimeout: 5 * time.Second, OverallDeadline: 10 * time.Second}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	_, ch := d.Dispatch(ctx, &schema.AskRequest{Query: "weather"}, []matcher.Match{matchFor("prov-a", 1), matchFor("prov-b", 0.9)})

	time.Sleep(20 * time.Millisecond)
	cancel()

	// Channel closes without emitting any result after cancellation.
	var got []SubResult
	for res := range ch {
		got = append(got, res)
	}
	assert.Empty(t, got)
}

func TestDispatch_NoMatches(t *testing.T) {
	d := New(&fakeCaller{}, Config{}, slog.Default())
	selected, ch := d.Dispatch(context.Background(), &schema.AskRequest{Query: "weather"}, nil)
	assert.Empty(t, selected)
	_, open := <-ch
	assert.False(t, open)
}

func TestSubResult_StatusWriteOnce(t *testing.T) {
	var res SubResult
	res.finalize(StatusTimeout, "provider timed out")
	res.finalize(StatusOK, "")
	assert.Equal(t, StatusTimeout, res.Status)
	assert.Equal(t, "provider timed out", res.Err)
}
