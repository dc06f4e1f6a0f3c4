package transport_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/svapna/pkg/config"
	"github.com/codeready-toolchain/svapna/pkg/transport"
	"github.com/codeready-toolchain/svapna/pkg/transport/faketransport"
)

func fastRetryConfig() *config.RetryConfig {
	return &config.RetryConfig{MaxAttempts: 3, BaseMs: 1, CapMs: 50, JitterMs: 0}
}

func drain(t *testing.T, s transport.Stream) ([]transport.StreamEvent, error) {
	t.Helper()
	var events []transport.StreamEvent
	for {
		ev, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		category  transport.Category
		retryable bool
	}{
		{"status 401", &transport.HTTPError{Status: 401, Message: "nope"}, transport.CategoryAuth, false},
		{"status 403", &transport.HTTPError{Status: 403, Message: "nope"}, transport.CategoryAuth, false},
		{"auth phrase", errors.New("Invalid API key provided"), transport.CategoryAuth, false},
		{"context length", &transport.HTTPError{Status: 400, Message: "max context tokens exceeded"}, transport.CategoryContextLength, false},
		{"content filter", &transport.HTTPError{Status: 400, Message: "blocked by safety system"}, transport.CategoryContentFilter, false},
		{"plain 400", &transport.HTTPError{Status: 400, Message: "bad payload"}, transport.CategoryInvalidRequest, false},
		{"status 429", &transport.HTTPError{Status: 429, Message: "slow down"}, transport.CategoryRateLimit, true},
		{"rate limit phrase", errors.New("Too Many Requests"), transport.CategoryRateLimit, true},
		{"status 529", &transport.HTTPError{Status: 529, Message: "busy"}, transport.CategoryOverloaded, true},
		{"overloaded phrase", errors.New("model is at capacity"), transport.CategoryOverloaded, true},
		{"status 503", &transport.HTTPError{Status: 503, Message: "unavailable"}, transport.CategoryServerError, true},
		{"server phrase", errors.New("Internal Error while generating"), transport.CategoryServerError, true},
		{"network", errors.New("read tcp: ECONNRESET"), transport.CategoryNetwork, true},
		{"fetch failed", errors.New("fetch failed"), transport.CategoryNetwork, true},
		{"timeout", errors.New("request timed out"), transport.CategoryTimeout, true},
		{"unknown", errors.New("something odd"), transport.CategoryUnknown, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pe := transport.Classify(tc.err)
			assert.Equal(t, tc.category, pe.Category)
			assert.Equal(t, tc.retryable, pe.Category.Retryable())
		})
	}
}

func TestClassify_AuthWinsOverLaterRules(t *testing.T) {
	// "authentication timeout" mentions a timeout phrase too; the ordered
	// rules must classify it as auth because that rule runs first.
	pe := transport.Classify(errors.New("authentication timeout"))
	assert.Equal(t, transport.CategoryAuth, pe.Category)
}

func TestClassify_RetryAfterHint(t *testing.T) {
	pe := transport.Classify(errors.New("rate limit exceeded, retry after: 7"))
	assert.Equal(t, transport.CategoryRateLimit, pe.Category)
	assert.Equal(t, 7*time.Second, pe.RetryAfter)
}

func TestClassify_SentinelMatching(t *testing.T) {
	pe := transport.Classify(&transport.HTTPError{Status: 401, Message: "no"})
	assert.ErrorIs(t, pe, transport.ErrProviderAuth)
	assert.NotErrorIs(t, pe, transport.ErrProviderTimeout)
}

func TestStream_RetriesTransientOpenFailure(t *testing.T) {
	provider := faketransport.New("p1",
		faketransport.Act{OpenErr: errors.New("econnreset")},
		faketransport.Act{Events: []transport.StreamEvent{{Type: "delta", Content: "hi"}}},
	)
	tr := transport.New(fastRetryConfig(), nil)

	s, err := tr.Stream(context.Background(), provider, transport.ChatContext{}, transport.Options{})
	require.NoError(t, err)

	events, err := drain(t, s)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "hi", events[0].Content)
	assert.Equal(t, 2, provider.Calls())
}

func TestStream_DoesNotRetryNonRetryable(t *testing.T) {
	provider := faketransport.New("p1",
		faketransport.Act{OpenErr: errors.New("invalid api key")},
		faketransport.Act{Events: []transport.StreamEvent{{Type: "delta"}}},
	)
	tr := transport.New(fastRetryConfig(), nil)

	s, err := tr.Stream(context.Background(), provider, transport.ChatContext{}, transport.Options{})
	require.NoError(t, err)

	_, err = drain(t, s)
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrProviderAuth)
	assert.Equal(t, 1, provider.Calls())
}

func TestStream_ExhaustsRetries(t *testing.T) {
	provider := faketransport.New("p1",
		faketransport.Act{OpenErr: errors.New("server error")},
	)
	tr := transport.New(fastRetryConfig(), nil)

	s, err := tr.Stream(context.Background(), provider, transport.ChatContext{}, transport.Options{})
	require.NoError(t, err)

	_, err = drain(t, s)
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrProviderServer)
	assert.Equal(t, 3, provider.Calls())
}

func TestStream_PartialOutputCommitsAttempt(t *testing.T) {
	provider := faketransport.New("p1",
		faketransport.Act{
			Events:  []transport.StreamEvent{{Type: "delta", Content: "partial"}},
			RecvErr: errors.New("econnreset"),
		},
		faketransport.Act{Events: []transport.StreamEvent{{Type: "delta", Content: "retried"}}},
	)
	tr := transport.New(fastRetryConfig(), nil)

	s, err := tr.Stream(context.Background(), provider, transport.ChatContext{}, transport.Options{})
	require.NoError(t, err)

	events, err := drain(t, s)
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrProviderNetwork)
	require.Len(t, events, 1)
	assert.Equal(t, "partial", events[0].Content)
	assert.Equal(t, 1, provider.Calls(), "a stream that yielded must not restart")
}

func TestStream_MidStreamErrorBeforeFirstEventRetries(t *testing.T) {
	provider := faketransport.New("p1",
		faketransport.Act{RecvErr: errors.New("timed out")},
		faketransport.Act{Events: []transport.StreamEvent{{Type: "delta", Content: "ok"}}},
	)
	tr := transport.New(fastRetryConfig(), nil)

	s, err := tr.Stream(context.Background(), provider, transport.ChatContext{}, transport.Options{})
	require.NoError(t, err)

	events, err := drain(t, s)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ok", events[0].Content)
}

func TestStream_OpenBreakerRejectsBeforeProviderCall(t *testing.T) {
	provider := faketransport.New("p1",
		faketransport.Act{OpenErr: errors.New("unauthorized")},
	)
	breakerCfg := &config.CircuitBreakerConfig{FailureThreshold: 1, CooldownMs: 60_000, SuccessThreshold: 1}
	tr := transport.New(fastRetryConfig(), breakerCfg)

	s, err := tr.Stream(context.Background(), provider, transport.ChatContext{}, transport.Options{})
	require.NoError(t, err)
	_, err = drain(t, s)
	require.Error(t, err)

	calls := provider.Calls()
	_, err = tr.Stream(context.Background(), provider, transport.ChatContext{}, transport.Options{})
	require.Error(t, err)
	var coe *transport.CircuitOpenError
	require.ErrorAs(t, err, &coe)
	assert.Equal(t, "p1", coe.Provider)
	assert.Greater(t, coe.Remaining, time.Duration(0))
	assert.ErrorIs(t, err, transport.ErrCircuitOpen)
	assert.Equal(t, calls, provider.Calls(), "open breaker must reject before calling the provider")
}
