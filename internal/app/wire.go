package app

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/op/go-logging.v1"

	"huddle/internal/config"
	"huddle/internal/domain"
	"huddle/internal/engine"
	"huddle/internal/log"
	"huddle/internal/relay"
	groupsvc "huddle/internal/services/group"
	identitysvc "huddle/internal/services/identity"
	invitesvc "huddle/internal/services/invite"
	membershipsvc "huddle/internal/services/membership"
	messagesvc "huddle/internal/services/message"
	sessionsvc "huddle/internal/services/session"
	welcomesvc "huddle/internal/services/welcome"
	"huddle/internal/store"
	"huddle/internal/timeline"
)

// Wire bundles the stores, transport and engine shared by every service.
type Wire struct {
	Config    *config.Config
	Log       *log.Backend
	Store     *store.Store
	Writer    *store.Writer
	Transport domain.Transport
	Engine    domain.Engine
	Timeline  *timeline.Store
	Identity  domain.IdentityService

	log       *logging.Logger
	closeOnce sync.Once
	closeErr  error
}

// NewWire constructs the dependency graph from cfg.
func NewWire(cfg Config) (*Wire, error) {
	s := cfg.Settings
	if s == nil {
		return nil, errors.New("app: missing configuration")
	}
	backend, err := s.InitLogBackend()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.Store.Home, 0o700); err != nil {
		return nil, err
	}

	db, err := store.Open(s.StorePath(), backend.GetLogger("store"))
	if err != nil {
		return nil, err
	}
	writer := store.NewWriter(db, s.FlushInterval(), backend.GetLogger("writer"))
	writer.Start()

	var transport domain.Transport
	switch s.Transport.Kind {
	case config.TransportNATS:
		transport = relay.NewNATS(relay.NATSOptions{
			Endpoints:      s.Transport.Endpoints,
			MaxReconnects:  s.Transport.MaxReconnects,
			ReconnectWait:  s.ReconnectWait(),
			PublishTimeout: s.PublishTimeout(),
			QueryTimeout:   s.QueryTimeout(),
		}, backend.GetLogger("nats"))
	default:
		hub := cfg.Hub
		if hub == nil {
			hub = relay.NewHub()
		}
		transport = relay.NewMemory(hub, s.Transport.Endpoints, backend.GetLogger("relay"))
	}

	return &Wire{
		Config:    s,
		Log:       backend,
		Store:     db,
		Writer:    writer,
		Transport: transport,
		Engine:    engine.New(),
		Timeline:  timeline.New(writer),
		Identity:  identitysvc.New(store.NewIdentityFileStore(s.Store.Home)),
		log:       backend.GetLogger("app"),
	}, nil
}

// Unlock opens the identity and builds the services acting for it. Persisted
// sessions and timelines are restored before it returns.
func (w *Wire) Unlock(passphrase string) (*App, error) {
	signer, err := w.Identity.Signer(passphrase)
	if err != nil {
		return nil, err
	}
	g := w.Config.Groups
	suite := domain.CipherSuite(g.CipherSuite)

	sessions := sessionsvc.New(w.Engine, w.Store, w.Writer, w.Log.GetLogger("session"))
	invites := invitesvc.New(signer, w.Engine, w.Store, w.Transport, invitesvc.Options{
		Relays: w.Config.Transport.Endpoints,
		Resolve: domain.ResolveOptions{
			RequiredCapabilities: g.RequiredCapabilities,
			MultiDevice:          g.MultiDeviceInvites,
		},
		Parallelism: g.ResolveParallelism,
	}, w.Log.GetLogger("invite"))
	welcomes := welcomesvc.New(signer, w.Transport, w.Log.GetLogger("welcome"))
	messages := messagesvc.New(signer, w.Engine, sessions, w.Transport, w.Timeline, w.Writer, w.Log.GetLogger("message"))
	groups := groupsvc.New(signer, w.Engine, sessions, invites, welcomes, messages, w.Transport, groupsvc.Options{
		CipherSuite:     suite,
		WelcomeLookback: w.Config.WelcomeLookback(),
	}, w.Log.GetLogger("group"))
	membership := membershipsvc.New(signer, w.Engine, sessions, invites, welcomes, messages, groups, w.Log.GetLogger("membership"))

	n, err := sessions.RestoreAll()
	if err != nil {
		return nil, fmt.Errorf("restore sessions: %w", err)
	}
	if err := messages.Restore(); err != nil {
		w.log.Warningf("restore timelines: %v", err)
	}
	w.log.Debugf("unlocked %s with %d sessions", signer.PublicKey().Short(), n)

	return New(signer.PublicKey(), suite, invites, sessions, welcomes, groups, messages, membership), nil
}

// Close closes the transport so no callback can queue more writes, stops
// the writer after a final flush, then closes the database.
func (w *Wire) Close() error {
	w.closeOnce.Do(func() {
		terr := w.Transport.Close()
		w.Writer.Halt()
		w.closeErr = errors.Join(terr, w.Store.Close())
	})
	return w.closeErr
}
