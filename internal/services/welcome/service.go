package welcome

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/op/go-logging.v1"

	"huddle/internal/domain"
	"huddle/internal/protocol/giftwrap"
)

// Service sends and opens Welcomes.
type Service struct {
	log       *logging.Logger
	signer    domain.Signer
	transport domain.Transport
}

// New constructs a welcome service.
func New(signer domain.Signer, transport domain.Transport, log *logging.Logger) *Service {
	return &Service{log: log, signer: signer, transport: transport}
}

// Send wraps joinMaterial for the owner of target and publishes it to the
// target's relays, or the default relays when it names none.
//
// Steps:
//  1. Build the unsigned Welcome rumor naming the invite target.
//  2. Seal it with this identity and gift wrap it with a one-off key.
//  3. Publish the gift wrap.
func (s *Service) Send(
	ctx context.Context,
	target domain.InviteTarget,
	joinMaterial []byte,
	groupRelays []string,
) error {
	now := time.Now()
	rumor := giftwrap.WelcomeRumor(s.signer.PublicKey(), target.ID, joinMaterial, groupRelays, now)
	wrap, err := giftwrap.Wrap(rumor, s.signer, target.Owner, now)
	if err != nil {
		return fmt.Errorf("wrap welcome for %s: %w", target.Owner.Short(), err)
	}
	if _, err := s.transport.Publish(ctx, target.Relays, wrap); err != nil {
		return fmt.Errorf("deliver welcome to %s: %w", target.Owner.Short(), err)
	}
	s.log.Debugf("sent welcome for invite target %s", target.ID)
	return nil
}

// Open unwraps a gift wrap addressed to this identity and decodes the
// Welcome inside.
func (s *Service) Open(ev domain.Event) (domain.Welcome, error) {
	rumor, err := giftwrap.Unwrap(ev, s.signer)
	if err != nil {
		return domain.Welcome{}, err
	}
	return giftwrap.ParseWelcome(rumor)
}

// Filter selects gift wraps addressed to this identity created at or after
// since.
func (s *Service) Filter(since int64) domain.Filter {
	return domain.Filter{
		Kinds: []int{domain.KindGiftWrap},
		Tags:  map[string][]string{domain.TagPubKey: {s.signer.PublicKey().String()}},
		Since: since,
	}
}

// Compile-time assertion that Service implements domain.WelcomeService.
var _ domain.WelcomeService = (*Service)(nil)
