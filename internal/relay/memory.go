package relay

import (
	"context"
	"errors"
	"sync"

	"gopkg.in/op/go-logging.v1"

	"huddle/internal/domain"
)

var (
	errNoEndpoints = errors.New("relay: no endpoints configured")
	errClosed      = errors.New("relay: transport closed")
)

// Hub is a set of in-process relay endpoints shared by every Memory
// transport attached to it.
type Hub struct {
	mu        sync.Mutex
	endpoints map[string]*endpoint
}

// NewHub returns an empty Hub. Endpoints are created on first use.
func NewHub() *Hub {
	return &Hub{endpoints: make(map[string]*endpoint)}
}

type endpoint struct {
	name    string
	archive *Archive

	mu        sync.Mutex
	subs      map[*memorySub]struct{}
	rejecting string
}

func (h *Hub) endpoint(name string) *endpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	ep, ok := h.endpoints[name]
	if !ok {
		ep = &endpoint{name: name, archive: NewArchive(), subs: make(map[*memorySub]struct{})}
		h.endpoints[name] = ep
	}
	return ep
}

// SetRejecting makes endpoint name refuse every publish with reason. An
// empty reason restores normal operation.
func (h *Hub) SetRejecting(name, reason string) {
	ep := h.endpoint(name)
	ep.mu.Lock()
	ep.rejecting = reason
	ep.mu.Unlock()
}

// Archive exposes an endpoint's stored events.
func (h *Hub) Archive(name string) *Archive { return h.endpoint(name).archive }

func (ep *endpoint) publish(ev domain.Event) domain.PublishResult {
	ep.mu.Lock()
	reason := ep.rejecting
	ep.mu.Unlock()
	if reason != "" {
		return domain.PublishResult{Endpoint: ep.name, Reason: reason}
	}

	ack, fresh := ep.archive.Accept(ev)
	if fresh {
		ep.mu.Lock()
		for s := range ep.subs {
			s.deliver(ev)
		}
		ep.mu.Unlock()
	}
	return domain.PublishResult{Endpoint: ep.name, Accepted: ack.OK, Reason: ack.Reason}
}

type memorySub struct {
	filter   domain.Filter
	fn       func(domain.Event)
	inflight *sync.WaitGroup

	mu     sync.Mutex
	closed bool

	once sync.Once
	eps  []*endpoint
}

// deliver hands ev to fn on its own goroutine, so arrival order is not
// publish order.
func (s *memorySub) deliver(ev domain.Event) {
	if !s.filter.Matches(ev) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		if !s.isClosed() {
			s.fn(ev)
		}
	}()
}

func (s *memorySub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		for _, ep := range s.eps {
			ep.mu.Lock()
			delete(ep.subs, s)
			ep.mu.Unlock()
		}
	})
	return nil
}

// Memory is a Transport over a Hub.
type Memory struct {
	log      *logging.Logger
	hub      *Hub
	defaults []string

	mu       sync.Mutex
	subs     []*memorySub
	closed   bool
	inflight sync.WaitGroup
}

// NewMemory returns a Transport that uses hub's endpoints. defaults are used
// when a call names no relays.
func NewMemory(hub *Hub, defaults []string, log *logging.Logger) *Memory {
	return &Memory{log: log, hub: hub, defaults: defaults}
}

func (m *Memory) endpoints(relays []string) ([]*endpoint, error) {
	if len(relays) == 0 {
		relays = m.defaults
	}
	if len(relays) == 0 {
		return nil, errNoEndpoints
	}
	eps := make([]*endpoint, 0, len(relays))
	for _, r := range relays {
		eps = append(eps, m.hub.endpoint(r))
	}
	return eps, nil
}

func (m *Memory) Publish(ctx context.Context, relays []string, ev domain.Event) ([]domain.PublishResult, error) {
	eps, err := m.endpoints(relays)
	if err != nil {
		return nil, err
	}
	results := make([]domain.PublishResult, 0, len(eps))
	for _, ep := range eps {
		if err := ctx.Err(); err != nil {
			results = append(results, domain.PublishResult{Endpoint: ep.name, Reason: err.Error()})
			continue
		}
		r := ep.publish(ev)
		if !r.Accepted {
			m.log.Debugf("%s rejected %s: %s", ep.name, ev.ID, r.Reason)
		}
		results = append(results, r)
	}
	return outcome(results)
}

// Subscribe replays stored matches and then delivers live events.
func (m *Memory) Subscribe(
	ctx context.Context,
	relays []string,
	filter domain.Filter,
	fn func(domain.Event),
) (domain.Subscription, error) {
	eps, err := m.endpoints(relays)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errClosed
	}
	s := &memorySub{filter: filter, fn: fn, eps: eps, inflight: &m.inflight}
	for _, ep := range eps {
		ep.mu.Lock()
		ep.subs[s] = struct{}{}
		ep.mu.Unlock()
	}
	for _, ep := range eps {
		for _, ev := range ep.archive.Query(filter) {
			s.deliver(ev)
		}
	}
	m.subs = append(m.subs, s)
	return s, nil
}

func (m *Memory) Query(ctx context.Context, relays []string, filter domain.Filter) ([]domain.Event, error) {
	eps, err := m.endpoints(relays)
	if err != nil {
		return nil, err
	}
	snaps := make([][]domain.Event, 0, len(eps))
	for _, ep := range eps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		snaps = append(snaps, ep.archive.Query(filter))
	}
	return merge(filter, snaps...), nil
}

// Close closes every subscription opened through m and waits for
// callbacks already running. The Hub stays up.
func (m *Memory) Close() error {
	m.mu.Lock()
	subs := m.subs
	m.subs = nil
	m.closed = true
	m.mu.Unlock()
	for _, s := range subs {
		_ = s.Close()
	}
	m.inflight.Wait()
	return nil
}

var _ domain.Transport = (*Memory)(nil)
