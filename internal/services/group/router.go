package group

import (
	"context"
	"sync"

	"huddle/internal/domain"
)

// skew is the clock difference, in seconds, tolerated between members.
const skew = 60

// router tracks the subscriptions of the active Listen call.
type router struct {
	mu     sync.Mutex
	active *listener
}

// listener is the Subscription returned by Listen.
type listener struct {
	r      *router
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   []domain.Subscription
	groups map[domain.GroupID]domain.Subscription
	closed bool
	once   sync.Once
}

func (r *router) start(ctx context.Context) (*listener, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return nil, errListening
	}
	lctx, cancel := context.WithCancel(ctx)
	l := &listener{
		r:      r,
		ctx:    lctx,
		cancel: cancel,
		groups: make(map[domain.GroupID]domain.Subscription),
	}
	r.active = l
	go func() {
		<-lctx.Done()
		_ = l.Close()
	}()
	return l, nil
}

func (r *router) current() *listener {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// watch subscribes to conv's envelopes unless already routed.
func (r *router) watch(s *Service, conv domain.Conversation) {
	l := r.current()
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if _, ok := l.groups[conv.ID]; ok {
		return
	}
	id := conv.ID
	sub, err := s.transport.Subscribe(l.ctx, conv.Relays, s.groupFilter(conv), func(ev domain.Event) {
		s.onEnvelope(l.ctx, id, ev)
	})
	if err != nil {
		s.log.Errorf("subscribe to group %s: %v", id.Hex(), err)
		return
	}
	l.groups[id] = sub
	s.log.Debugf("routing group %s", id.Hex())
}

func (r *router) unwatch(id domain.GroupID) {
	l := r.current()
	if l == nil {
		return
	}
	l.mu.Lock()
	sub, ok := l.groups[id]
	delete(l.groups, id)
	l.mu.Unlock()
	if ok {
		_ = sub.Close()
	}
}

func (l *listener) add(sub domain.Subscription) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = append(l.subs, sub)
}

// Close stops every subscription. It is safe to call more than once.
func (l *listener) Close() error {
	l.once.Do(func() {
		l.cancel()

		l.r.mu.Lock()
		if l.r.active == l {
			l.r.active = nil
		}
		l.r.mu.Unlock()

		l.mu.Lock()
		l.closed = true
		subs := l.subs
		for _, sub := range l.groups {
			subs = append(subs, sub)
		}
		l.subs, l.groups = nil, nil
		l.mu.Unlock()

		for _, sub := range subs {
			_ = sub.Close()
		}
	})
	return nil
}
