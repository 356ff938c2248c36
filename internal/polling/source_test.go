package polling

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-dashboard/internal/apiclient"
)

type record struct {
	ID    int     `json:"id"`
	Price float64 `json:"price"`
}

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }

func jsonResponse(status int, body string, header map[string]string) *http.Response {
	h := http.Header{"Content-Type": []string{"application/json"}}
	for k, v := range header {
		h.Set(k, v)
	}
	return &http.Response{StatusCode: status, Header: h, Body: io.NopCloser(strings.NewReader(body))}
}

func newClient(d apiclient.Doer) *apiclient.Client {
	cfg := apiclient.Config{Timeout: time.Second, MaxRetries: 0}
	return apiclient.New(cfg, apiclient.WithDoer(d))
}

var target = apiclient.Get("http://dashboard.test/api/market-analysis/housing")

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions[record]()
	assert.Equal(t, 60*time.Second, opts.Interval)
	assert.True(t, opts.Immediate)
	assert.Equal(t, "x-fallback", opts.FallbackHeader)
}

func TestNew_Seeded(t *testing.T) {
	seed := []record{{ID: 1, Price: 100}}
	src := New(newClient(doerFunc(nil)), target, Options[record]{Seed: seed})

	snap := src.Snapshot()
	assert.Equal(t, seed, snap.Data)
	assert.False(t, snap.LastUpdatedAt.IsZero())
	assert.False(t, snap.Loading)
	assert.Empty(t, snap.Error)
}

func TestStart_SeededSkipsInitialFetch(t *testing.T) {
	var calls atomic.Int32
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return jsonResponse(200, `[]`, nil), nil
	})
	src := New(newClient(doer), target, Options[record]{Seed: []record{{ID: 1}}, Immediate: true})
	defer src.Close()

	src.Start(context.Background())
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int32(0), calls.Load())
	assert.Len(t, src.Snapshot().Data, 1)
}

func TestStart_ImmediateFetch(t *testing.T) {
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		return jsonResponse(200, `[{"id":1,"price":250000},{"id":2,"price":310000}]`, map[string]string{"x-fallback": "false"}), nil
	})
	src := New(newClient(doer), target, Options[record]{Immediate: true})
	defer src.Close()

	src.Start(context.Background())

	require.Eventually(t, func() bool {
		return len(src.Snapshot().Data) == 2
	}, time.Second, 5*time.Millisecond)

	snap := src.Snapshot()
	assert.False(t, snap.UsingFallback)
	assert.False(t, snap.Loading)
	assert.False(t, snap.LastUpdatedAt.IsZero())
}

func TestStart_NotImmediateWaitsForTicker(t *testing.T) {
	var calls atomic.Int32
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return jsonResponse(200, `[]`, nil), nil
	})
	src := New(newClient(doer), target, Options[record]{Immediate: false})
	defer src.Close()

	src.Start(context.Background())
	time.Sleep(30 * time.Millisecond)

	assert.Equal(t, int32(0), calls.Load())
}

func TestRefetch_FallbackHeader(t *testing.T) {
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		return jsonResponse(200, `[{"id":7,"price":1}]`, map[string]string{"x-fallback": "true"}), nil
	})
	src := New(newClient(doer), target, Options[record]{})

	out := src.Refetch(context.Background())

	require.True(t, out.Success)
	want := State[record]{
		Data:          []record{{ID: 7, Price: 1}},
		UsingFallback: true,
	}
	got := src.Snapshot()
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(State[record]{}, "LastUpdatedAt")); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, got.LastUpdatedAt.IsZero())
}

func TestRefetch_CustomFallbackHeader(t *testing.T) {
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		return jsonResponse(200, `[]`, map[string]string{"X-Served-From-Cache": "TRUE"}), nil
	})
	src := New(newClient(doer), target, Options[record]{FallbackHeader: "X-Served-From-Cache"})

	src.Refetch(context.Background())

	assert.True(t, src.Snapshot().UsingFallback)
}

func TestRefetch_FailureKeepsData(t *testing.T) {
	seed := []record{{ID: 1, Price: 100}}
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		return jsonResponse(500, `{"error":"database unavailable"}`, nil), nil
	})
	src := New(newClient(doer), target, Options[record]{Seed: seed})
	before := src.Snapshot().LastUpdatedAt

	out := src.Refetch(context.Background())

	assert.False(t, out.Success)
	snap := src.Snapshot()
	assert.Equal(t, seed, snap.Data)
	assert.Equal(t, "database unavailable", snap.Error)
	assert.False(t, snap.Loading)
	assert.Equal(t, before, snap.LastUpdatedAt)
}

func TestRefetch_SuccessClearsError(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		if fail.Load() {
			return jsonResponse(503, `{"error":"down"}`, nil), nil
		}
		return jsonResponse(200, `[{"id":1}]`, nil), nil
	})
	src := New(newClient(doer), target, Options[record]{})

	src.Refetch(context.Background())
	assert.Equal(t, "down", src.Snapshot().Error)

	fail.Store(false)
	src.Refetch(context.Background())
	assert.Empty(t, src.Snapshot().Error)
	assert.Len(t, src.Snapshot().Data, 1)
}

func TestRefetch_SupersedesInFlight(t *testing.T) {
	firstStarted := make(chan struct{})
	var firstCanceled atomic.Bool
	var calls atomic.Int32

	doer := doerFunc(func(r *http.Request) (*http.Response, error) {
		if calls.Add(1) == 1 {
			close(firstStarted)
			<-r.Context().Done()
			firstCanceled.Store(true)
			// A late body from the superseded call must not be applied.
			return jsonResponse(200, `[{"id":1}]`, nil), nil
		}
		return jsonResponse(200, `[{"id":2},{"id":3}]`, nil), nil
	})
	src := New(newClient(doer), target, Options[record]{})

	firstDone := make(chan apiclient.Outcome[[]record], 1)
	go func() { firstDone <- src.Refetch(context.Background()) }()
	<-firstStarted

	second := src.Refetch(context.Background())
	first := <-firstDone

	require.True(t, second.Success)
	assert.True(t, firstCanceled.Load())
	assert.Equal(t, apiclient.KindCanceled, first.Kind)
	assert.Equal(t, apiclient.MsgCanceled, first.ErrorMessage)

	snap := src.Snapshot()
	assert.Equal(t, []record{{ID: 2}, {ID: 3}}, snap.Data)
	assert.False(t, snap.Loading)
	assert.Empty(t, snap.Error)
}

func TestClose_DropsLateResult(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		close(started)
		<-release
		return jsonResponse(200, `[{"id":1}]`, nil), nil
	})
	src := New(newClient(doer), target, Options[record]{})

	done := make(chan apiclient.Outcome[[]record], 1)
	go func() { done <- src.Refetch(context.Background()) }()
	<-started

	src.Close()
	assert.False(t, src.Snapshot().Loading)
	src.Close()
	close(release)
	out := <-done

	assert.Equal(t, apiclient.KindCanceled, out.Kind)
	snap := src.Snapshot()
	assert.Nil(t, snap.Data)
	assert.False(t, snap.Loading)
	assert.Empty(t, snap.Error)

	after := src.Refetch(context.Background())
	assert.Equal(t, apiclient.KindCanceled, after.Kind)
}

func TestRefetch_PreparesPayload(t *testing.T) {
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		return jsonResponse(200, `[{"price":100},{"id":7,"price":200}]`, nil), nil
	})
	var prepared int
	src := New(newClient(doer), target, Options[record]{
		Prepare: func(rs []record) {
			prepared++
			for i := range rs {
				if rs[i].ID == 0 {
					rs[i].ID = 100 + i
				}
			}
		},
	})

	out := src.Refetch(context.Background())
	require.True(t, out.Success)
	assert.Equal(t, 1, prepared)
	assert.Equal(t, []record{{ID: 100, Price: 100}, {ID: 7, Price: 200}}, src.Snapshot().Data)
}

func TestRefetch_PrepareSkippedOnFailure(t *testing.T) {
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		return jsonResponse(500, `{"error":"down"}`, nil), nil
	})
	src := New(newClient(doer), target, Options[record]{
		Prepare: func([]record) { t.Error("prepare called for a failed fetch") },
	})

	out := src.Refetch(context.Background())
	assert.False(t, out.Success)
	assert.Equal(t, "down", src.Snapshot().Error)
}

func TestStart_TickerRevalidatesUntilClose(t *testing.T) {
	var calls atomic.Int32
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return jsonResponse(200, `[]`, nil), nil
	})
	src := New(newClient(doer), target, Options[record]{Seeded: true, Interval: 10 * time.Millisecond})

	src.Start(context.Background())
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	src.Close()
	stopped := calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, calls.Load(), stopped+1)
}

func TestStart_StopsWithContext(t *testing.T) {
	var calls atomic.Int32
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return jsonResponse(200, `[]`, nil), nil
	})
	src := New(newClient(doer), target, Options[record]{Seeded: true, Interval: 10 * time.Millisecond})
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	src.Start(ctx)
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, 5*time.Millisecond)

	cancel()
	time.Sleep(20 * time.Millisecond)
	stopped := calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, calls.Load())
}

func TestOnChange(t *testing.T) {
	var mu sync.Mutex
	var seen []State[record]
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		return jsonResponse(200, `[{"id":1}]`, nil), nil
	})
	src := New(newClient(doer), target, Options[record]{
		OnChange: func(s State[record]) {
			mu.Lock()
			seen = append(seen, s)
			mu.Unlock()
		},
	})

	src.Refetch(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.True(t, seen[0].Loading)
	assert.False(t, seen[1].Loading)
	assert.Len(t, seen[1].Data, 1)
}

func TestSnapshot_IsCopy(t *testing.T) {
	src := New(newClient(doerFunc(nil)), target, Options[record]{Seed: []record{{ID: 1}}})

	snap := src.Snapshot()
	snap.Data[0].ID = 99

	assert.Equal(t, 1, src.Snapshot().Data[0].ID)
}
