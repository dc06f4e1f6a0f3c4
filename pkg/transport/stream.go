package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/svapna/pkg/config"
)

// Transport is the resilient entry point in front of every provider:
// circuit check, then a retrying stream open, then breaker accounting on
// the stream's terminal outcome.
type Transport struct {
	retry    *config.RetryConfig
	breakers *Registry
	log      *slog.Logger
}

// New builds a Transport. Nil configs fall back to the built-in defaults.
func New(retryCfg *config.RetryConfig, breakerCfg *config.CircuitBreakerConfig) *Transport {
	if retryCfg == nil {
		retryCfg = config.DefaultRetryConfig()
	}
	if breakerCfg == nil {
		breakerCfg = config.DefaultCircuitBreakerConfig()
	}
	return &Transport{
		retry:    retryCfg,
		breakers: NewRegistry(breakerCfg),
		log:      slog.With("component", "transport"),
	}
}

// Breaker exposes provider's breaker, mainly for observability endpoints.
func (t *Transport) Breaker(providerID string) *Breaker {
	return t.breakers.For(providerID)
}

// Stream opens a resilient stream on provider. The returned Stream yields
// the provider's events; transient failures are retried with jittered
// exponential backoff as long as no event has been yielded yet, and the
// provider's circuit breaker records the terminal outcome. A rejection by
// an open breaker surfaces as *CircuitOpenError before any provider call.
func (t *Transport) Stream(ctx context.Context, provider Provider, chat ChatContext, opts Options) (Stream, error) {
	done, err := t.breakers.For(provider.ID()).Allow()
	if err != nil {
		return nil, err
	}
	return &resilientStream{
		ctx:      ctx,
		t:        t,
		provider: provider,
		chat:     chat,
		opts:     opts,
		done:     done,
	}, nil
}

// resilientStream drives CreateStream attempts lazily from Recv. Once any
// event has been observed by the caller the sequence is committed and will
// not be restarted, per the non-restartable lazy sequence contract.
type resilientStream struct {
	ctx      context.Context
	t        *Transport
	provider Provider
	chat     ChatContext
	opts     Options
	done     func(success bool)

	cur      Stream
	yielded  bool
	attempts int // failed attempts so far
	finished bool
}

func (s *resilientStream) Recv() (StreamEvent, error) {
	if s.finished {
		return StreamEvent{}, io.EOF
	}
	for {
		if s.cur == nil {
			st, err := s.provider.CreateStream(s.ctx, s.chat, s.opts)
			if err != nil {
				if rerr := s.failAttempt(err); rerr != nil {
					return StreamEvent{}, rerr
				}
				continue
			}
			s.cur = st
		}

		ev, err := s.cur.Recv()
		switch {
		case err == nil:
			s.yielded = true
			return ev, nil
		case errors.Is(err, io.EOF):
			s.settle(true)
			return StreamEvent{}, io.EOF
		default:
			s.cur = nil
			if rerr := s.failAttempt(err); rerr != nil {
				return StreamEvent{}, rerr
			}
		}
	}
}

// failAttempt classifies raw and either schedules a retry (returning nil) or
// settles the stream and returns the canonical error. Partial output commits
// the attempt: a stream that already yielded is never retried.
func (s *resilientStream) failAttempt(raw error) error {
	perr := Classify(raw)
	perr.Provider = s.provider.ID()
	s.attempts++

	if s.yielded || !perr.Category.Retryable() || s.attempts >= s.t.retry.MaxAttempts {
		s.settle(false)
		return perr
	}

	delay := nextDelay(s.t.retry, s.attempts-1, perr.RetryAfter)
	s.t.log.Warn("retrying provider stream",
		"provider", perr.Provider,
		"category", string(perr.Category),
		"attempt", s.attempts,
		"delay", delay.String())

	select {
	case <-time.After(delay):
		return nil
	case <-s.ctx.Done():
		s.settle(false)
		return s.ctx.Err()
	}
}

func (s *resilientStream) settle(success bool) {
	if s.finished {
		return
	}
	s.finished = true
	if s.done != nil {
		s.done(success)
	}
}
