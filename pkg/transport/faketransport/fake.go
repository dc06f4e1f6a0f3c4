// Package faketransport provides a scripted Provider for exercising the
// transport's retry and circuit-breaker machinery in tests. It ships no
// real wire protocol.
package faketransport

import (
	"context"
	"io"
	"sync"

	"github.com/codeready-toolchain/svapna/pkg/transport"
)

// Act scripts the outcome of one CreateStream call: an open failure, or a
// sequence of events optionally terminated by a mid-stream error instead of
// a clean end.
type Act struct {
	OpenErr error
	Events  []transport.StreamEvent
	RecvErr error
}

// Provider replays its acts in order; the final act repeats once the script
// is exhausted.
type Provider struct {
	id string

	mu    sync.Mutex
	acts  []Act
	calls int
}

// New builds a Provider with the given id and script.
func New(id string, acts ...Act) *Provider {
	return &Provider{id: id, acts: acts}
}

// ID implements transport.Provider.
func (p *Provider) ID() string { return p.id }

// Models implements transport.Provider.
func (p *Provider) Models() []string { return []string{"fake-model"} }

// Calls reports how many times CreateStream ran.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// CreateStream implements transport.Provider by replaying the next act.
func (p *Provider) CreateStream(ctx context.Context, chat transport.ChatContext, opts transport.Options) (transport.Stream, error) {
	p.mu.Lock()
	i := p.calls
	p.calls++
	if i >= len(p.acts) {
		i = len(p.acts) - 1
	}
	act := p.acts[i]
	p.mu.Unlock()

	if act.OpenErr != nil {
		return nil, act.OpenErr
	}
	return &stream{events: act.Events, recvErr: act.RecvErr}, nil
}

type stream struct {
	events  []transport.StreamEvent
	recvErr error
	i       int
}

func (s *stream) Recv() (transport.StreamEvent, error) {
	if s.i < len(s.events) {
		ev := s.events[s.i]
		s.i++
		return ev, nil
	}
	if s.recvErr != nil {
		return transport.StreamEvent{}, s.recvErr
	}
	return transport.StreamEvent{}, io.EOF
}
