package rotator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-wallet-monitor/internal/solana"
)

// fakeRPC is a single-endpoint client that counts calls and returns queued errors.
type fakeRPC struct {
	mu    sync.Mutex
	url   string
	calls int
	errs  []error
	delay time.Duration
}

func (f *fakeRPC) next(ctx context.Context) error {
	f.mu.Lock()
	f.calls++
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeRPC) GetTransaction(ctx context.Context, sig string) (*solana.Transaction, error) {
	if err := f.next(ctx); err != nil {
		return nil, err
	}
	return &solana.Transaction{Signature: sig}, nil
}

func (f *fakeRPC) GetSignaturesForAddress(ctx context.Context, _ string, _ *solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	if err := f.next(ctx); err != nil {
		return nil, err
	}
	return []solana.SignatureInfo{{Signature: f.url}}, nil
}

func (f *fakeRPC) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestRotator(t *testing.T, n int, cfg Config) (*Rotator, []*fakeRPC) {
	t.Helper()
	fakes := make(map[string]*fakeRPC)
	var ordered []*fakeRPC
	for i := 0; i < n; i++ {
		url := "http://rpc" + string(rune('a'+i)) + ".test"
		cfg.Endpoints = append(cfg.Endpoints, EndpointConfig{URL: url})
		f := &fakeRPC{url: url}
		fakes[url] = f
		ordered = append(ordered, f)
	}
	r, err := New(cfg, nil, WithClientFactory(func(ep EndpointConfig, _ string, _ time.Duration) solana.RPCClient {
		return fakes[ep.URL]
	}))
	require.NoError(t, err)
	return r, ordered
}

func TestNew_NoEndpoints(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.ErrorIs(t, err, ErrNoEndpoints)
}

func TestRotator_Fairness(t *testing.T) {
	const calls = 1000
	for _, n := range []int{3, 4, 7} {
		r, fakes := newTestRotator(t, n, Config{})
		client := NewClient(r)

		for i := 0; i < calls; i++ {
			_, err := client.GetTransaction(context.Background(), "sig")
			require.NoError(t, err)
		}

		expected := float64(calls) / float64(n)
		for i, f := range fakes {
			got := float64(f.Calls())
			assert.InDelta(t, expected, got, expected*0.05, "endpoint %d of %d", i, n)
		}
	}
}

func TestRotator_FairnessConcurrent(t *testing.T) {
	r, fakes := newTestRotator(t, 4, Config{})
	client := NewClient(r)

	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				client.GetSignaturesForAddress(context.Background(), "addr", nil)
			}
		}()
	}
	wg.Wait()

	for _, f := range fakes {
		assert.Equal(t, 250, f.Calls())
	}
}

func TestRotator_RetryCeiling(t *testing.T) {
	r, fakes := newTestRotator(t, 3, Config{})
	for _, f := range fakes {
		f.errs = []error{&solana.TransportError{Endpoint: f.url, Err: errors.New("connection reset")}}
	}

	_, err := NewClient(r).GetTransaction(context.Background(), "sig")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimitExceeded)

	var te *solana.TransportError
	assert.ErrorAs(t, err, &te, "last cause stays in the chain")

	// One attempt per distinct endpoint.
	for _, f := range fakes {
		assert.Equal(t, 1, f.Calls())
	}

	stats := r.Stats()
	for _, es := range stats.Endpoints {
		assert.Equal(t, int64(1), es.Requests)
		assert.Equal(t, int64(1), es.Failures)
		assert.Zero(t, es.SuccessRate)
	}
}

func TestRotator_RetriesOnRateLimitThenSucceeds(t *testing.T) {
	r, fakes := newTestRotator(t, 3, Config{})
	fakes[0].errs = []error{solana.ErrRateLimited}

	sigs, err := NewClient(r).GetSignaturesForAddress(context.Background(), "addr", nil)
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, fakes[1].url, sigs[0].Signature, "second attempt goes to the next endpoint")
	assert.Equal(t, 1, fakes[0].Calls())
	assert.Equal(t, 1, fakes[1].Calls())
	assert.Equal(t, 0, fakes[2].Calls())
}

func TestRotator_RPCErrorNotRetried(t *testing.T) {
	r, fakes := newTestRotator(t, 3, Config{})
	fakes[0].errs = []error{&solana.RPCError{Code: -32602, Message: "invalid params"}}

	_, err := NewClient(r).GetTransaction(context.Background(), "sig")
	var rpcErr *solana.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.NotErrorIs(t, err, ErrRateLimitExceeded)
	assert.Equal(t, 0, fakes[1].Calls()+fakes[2].Calls())
}

func TestRotator_TimeoutIsTransportFailure(t *testing.T) {
	r, fakes := newTestRotator(t, 2, Config{RequestTimeout: 20 * time.Millisecond, MaxAttempts: 2})
	fakes[0].delay = time.Second

	_, err := NewClient(r).GetTransaction(context.Background(), "sig")
	require.NoError(t, err)
	assert.Equal(t, int64(1), r.Stats().Endpoints[0].Failures)
}

func TestRotator_ContextCanceled(t *testing.T) {
	r, fakes := newTestRotator(t, 3, Config{})
	for _, f := range fakes {
		f.delay = time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewClient(r).GetTransaction(ctx, "sig")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrRateLimitExceeded)
}

func TestRotator_Disable(t *testing.T) {
	r, fakes := newTestRotator(t, 3, Config{})
	r.Disable()
	assert.False(t, r.Enabled())

	client := NewClient(r)
	for i := 0; i < 10; i++ {
		_, err := client.GetTransaction(context.Background(), "sig")
		require.NoError(t, err)
	}
	assert.Equal(t, 10, fakes[0].Calls())
	assert.Equal(t, 0, fakes[1].Calls()+fakes[2].Calls())
	assert.Same(t, r.Endpoints()[0], r.NextEndpoint())

	r.Enable()
	assert.True(t, r.Enabled())
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		seen[r.NextEndpoint().URL] = true
	}
	assert.Len(t, seen, 3)
}

func TestRotator_DisabledRetriesPrimary(t *testing.T) {
	r, fakes := newTestRotator(t, 3, Config{Disabled: true})
	fakes[0].errs = []error{solana.ErrRateLimited, solana.ErrRateLimited, solana.ErrRateLimited}

	_, err := NewClient(r).GetTransaction(context.Background(), "sig")
	assert.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.Equal(t, 3, fakes[0].Calls())
}

func TestRotator_NextWebsocketURL(t *testing.T) {
	r, err := New(Config{Endpoints: []EndpointConfig{
		{URL: "https://a.test"},
		{URL: "http://b.test", WSURL: "ws://b.test/ws"},
	}}, nil)
	require.NoError(t, err)

	assert.Equal(t, "wss://a.test", r.NextWebsocketURL())
	assert.Equal(t, "ws://b.test/ws", r.NextWebsocketURL())
	assert.Equal(t, "wss://a.test", r.NextWebsocketURL())
}

func TestRotator_HostHintOverHTTP(t *testing.T) {
	var mu sync.Mutex
	hosts := map[string]int{}
	handler := func(w http.ResponseWriter, req *http.Request) {
		mu.Lock()
		hosts[req.Host]++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": 1, "result": []interface{}{}})
	}
	s1 := httptest.NewServer(http.HandlerFunc(handler))
	defer s1.Close()
	s2 := httptest.NewServer(http.HandlerFunc(handler))
	defer s2.Close()

	r, err := New(Config{
		Endpoints:     []EndpointConfig{{URL: s1.URL}, {URL: s2.URL}},
		CanonicalHost: "api.mainnet-beta.solana.com",
	}, nil)
	require.NoError(t, err)

	client := NewClient(r)
	for i := 0; i < 4; i++ {
		_, err := client.GetSignaturesForAddress(context.Background(), "addr", nil)
		require.NoError(t, err)
	}

	assert.Equal(t, map[string]int{"api.mainnet-beta.solana.com": 4}, hosts)
	for _, es := range r.Stats().Endpoints {
		assert.Equal(t, int64(2), es.Requests)
		assert.Equal(t, 1.0, es.SuccessRate)
		assert.False(t, es.LastUsed.IsZero())
	}
}

func TestRotator_PerEndpointPacing(t *testing.T) {
	r, _ := newTestRotator(t, 1, Config{PerEndpointRPS: 20})
	client := NewClient(r)

	start := time.Now()
	for i := 0; i < 25; i++ {
		_, err := client.GetTransaction(context.Background(), "sig")
		require.NoError(t, err)
	}
	// Burst of 20 then 5 more at 20/s.
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestRotator_PacingBeyondDeadlineIsRateLimitExceeded(t *testing.T) {
	r, fakes := newTestRotator(t, 1, Config{PerEndpointRPS: 0.5})
	client := NewClient(r)

	_, err := client.GetTransaction(context.Background(), "sig")
	require.NoError(t, err)

	// The next token is 2s away; a 100ms deadline cannot wait for it.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = client.GetTransaction(ctx, "sig")

	assert.ErrorIs(t, err, ErrRateLimitExceeded)
	assert.ErrorIs(t, err, solana.ErrRateLimited)
	assert.Equal(t, 1, fakes[0].Calls())
}
