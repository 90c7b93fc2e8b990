package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
	"gopkg.in/op/go-logging.v1"

	"huddle/internal/domain"
)

// NATSOptions configures the NATS transport.
type NATSOptions struct {
	Endpoints      []string
	MaxReconnects  int
	ReconnectWait  time.Duration
	PublishTimeout time.Duration
	QueryTimeout   time.Duration
}

// NATS is a Transport whose endpoints are NATS servers with relay daemons
// attached. Connections are opened on first use and shared.
type NATS struct {
	log  *logging.Logger
	opts NATSOptions

	mu       sync.Mutex
	conns    map[string]*nats.Conn
	subs     []*natsSub
	closed   bool
	inflight sync.WaitGroup
}

// NewNATS returns a NATS transport. No connection is made until first use.
func NewNATS(opts NATSOptions, log *logging.Logger) *NATS {
	return &NATS{log: log, opts: opts, conns: make(map[string]*nats.Conn)}
}

func (n *NATS) conn(url string) (*nats.Conn, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if nc, ok := n.conns[url]; ok {
		return nc, nil
	}
	nc, err := nats.Connect(url,
		nats.Name("huddle"),
		nats.MaxReconnects(n.opts.MaxReconnects),
		nats.ReconnectWait(n.opts.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			n.log.Warningf("Disconnected from %s: %v", url, err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			n.log.Infof("Reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("relay: connect %s: %w", url, err)
	}
	n.conns[url] = nc
	return nc, nil
}

func (n *NATS) endpoints(relays []string) ([]string, error) {
	if len(relays) == 0 {
		relays = n.opts.Endpoints
	}
	if len(relays) == 0 {
		return nil, errNoEndpoints
	}
	return relays, nil
}

func (n *NATS) request(ctx context.Context, url, subject string, timeout time.Duration, in, out any) error {
	nc, err := n.conn(url)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	msg, err := nc.RequestWithContext(ctx, subject, payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(msg.Data, out)
}

// Publish asks every endpoint concurrently to accept ev.
func (n *NATS) Publish(ctx context.Context, relays []string, ev domain.Event) ([]domain.PublishResult, error) {
	urls, err := n.endpoints(relays)
	if err != nil {
		return nil, err
	}
	results := make([]domain.PublishResult, len(urls))
	var g errgroup.Group
	for i, url := range urls {
		g.Go(func() error {
			var ack PublishAck
			r := domain.PublishResult{Endpoint: url}
			if err := n.request(ctx, url, SubjectPublish, n.opts.PublishTimeout, ev, &ack); err != nil {
				r.Reason = err.Error()
			} else {
				r.Accepted, r.Reason = ack.OK, ack.Reason
			}
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()
	return outcome(results)
}

// Query unions the stored matches of every reachable endpoint. It fails
// only when no endpoint answered.
func (n *NATS) Query(ctx context.Context, relays []string, filter domain.Filter) ([]domain.Event, error) {
	urls, err := n.endpoints(relays)
	if err != nil {
		return nil, err
	}
	snaps := make([][]domain.Event, len(urls))
	errs := make([]error, len(urls))
	var g errgroup.Group
	for i, url := range urls {
		g.Go(func() error {
			var reply QueryReply
			if err := n.request(ctx, url, SubjectQuery, n.opts.QueryTimeout, filter, &reply); err != nil {
				errs[i] = err
				return nil
			}
			if reply.Error != "" {
				errs[i] = fmt.Errorf("relay: %s: %s", url, reply.Error)
				return nil
			}
			snaps[i] = reply.Events
			return nil
		})
	}
	_ = g.Wait()

	answered := false
	for i, err := range errs {
		if err != nil {
			n.log.Warningf("Query at %s failed: %v", urls[i], err)
			continue
		}
		answered = true
	}
	if !answered {
		return nil, fmt.Errorf("relay: query failed at every endpoint: %w", errs[0])
	}
	return merge(filter, snaps...), nil
}

type natsSub struct {
	once sync.Once
	mu   sync.Mutex
	subs []*nats.Subscription
	done bool
}

func (s *natsSub) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.done = true
		for _, sub := range s.subs {
			if e := sub.Unsubscribe(); e != nil && err == nil {
				err = e
			}
		}
	})
	return err
}

// enter registers a callback with wg unless s is closed.
func (s *natsSub) enter(wg *sync.WaitGroup) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false
	}
	wg.Add(1)
	return true
}

// Subscribe listens on every endpoint's event stream, then replays stored
// matches so nothing published before the call is missed.
func (n *NATS) Subscribe(
	ctx context.Context,
	relays []string,
	filter domain.Filter,
	fn func(domain.Event),
) (domain.Subscription, error) {
	urls, err := n.endpoints(relays)
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, errClosed
	}
	n.mu.Unlock()
	s := &natsSub{}
	deliver := func(ev domain.Event) {
		if !filter.Matches(ev) || !s.enter(&n.inflight) {
			return
		}
		defer n.inflight.Done()
		fn(ev)
	}
	for _, url := range urls {
		nc, err := n.conn(url)
		if err != nil {
			n.log.Warningf("Subscribe at %s failed: %v", url, err)
			continue
		}
		sub, err := nc.Subscribe(SubjectEvents, func(m *nats.Msg) {
			var ev domain.Event
			if err := json.Unmarshal(m.Data, &ev); err != nil {
				n.log.Debugf("Dropping malformed event from %s: %v", url, err)
				return
			}
			deliver(ev)
		})
		if err != nil {
			n.log.Warningf("Subscribe at %s failed: %v", url, err)
			continue
		}
		s.subs = append(s.subs, sub)
	}
	if len(s.subs) == 0 {
		return nil, fmt.Errorf("relay: subscribe failed at every endpoint")
	}

	backlog, err := n.Query(ctx, urls, filter)
	if err != nil {
		n.log.Warningf("Backlog query failed: %v", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		_ = s.Close()
		return nil, errClosed
	}
	n.subs = append(n.subs, s)
	if s.enter(&n.inflight) {
		go func() {
			defer n.inflight.Done()
			for _, ev := range backlog {
				deliver(ev)
			}
		}()
	}
	return s, nil
}

// Close unsubscribes, waits for callbacks already running and drains
// every connection.
func (n *NATS) Close() error {
	n.mu.Lock()
	subs, conns := n.subs, n.conns
	n.subs, n.conns = nil, make(map[string]*nats.Conn)
	n.closed = true
	n.mu.Unlock()

	for _, s := range subs {
		_ = s.Close()
	}
	n.inflight.Wait()
	for _, nc := range conns {
		if err := nc.Drain(); err != nil {
			nc.Close()
		}
	}
	return nil
}

var _ domain.Transport = (*NATS)(nil)
