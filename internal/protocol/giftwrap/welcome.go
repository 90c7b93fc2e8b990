package giftwrap

import (
	"errors"
	"fmt"
	"time"

	"huddle/internal/crypto"
	"huddle/internal/domain"
)

const welcomeEncoding = "base64"

var errNoInviteTarget = errors.New("giftwrap: welcome names no invite target")

// WelcomeRumor builds the unsigned statement "join using invite target id,
// here is the join material and where to find the group".
func WelcomeRumor(
	author domain.Identity,
	target domain.InviteTargetID,
	joinMaterial []byte,
	relays []string,
	now time.Time,
) domain.Event {
	tags := domain.Tags{
		{domain.TagEvent, target.String()},
		{domain.TagEncoding, welcomeEncoding},
	}
	if len(relays) > 0 {
		tags = append(tags, append(domain.Tag{domain.TagRelays}, relays...))
	}
	return domain.Event{
		PubKey:    author,
		CreatedAt: now.Unix(),
		Kind:      domain.KindWelcome,
		Tags:      tags,
		Content:   crypto.B64(joinMaterial),
	}
}

// ParseWelcome decodes a rumor produced by WelcomeRumor and opened by Unwrap.
func ParseWelcome(rumor domain.Event) (domain.Welcome, error) {
	if rumor.Kind != domain.KindWelcome {
		return domain.Welcome{}, ErrKind
	}
	target := rumor.Tags.Value(domain.TagEvent)
	if target == "" {
		return domain.Welcome{}, errNoInviteTarget
	}
	if enc := rumor.Tags.Value(domain.TagEncoding); enc != "" && enc != welcomeEncoding {
		return domain.Welcome{}, fmt.Errorf("giftwrap: unsupported welcome encoding %q", enc)
	}
	join, err := crypto.FromB64(rumor.Content)
	if err != nil {
		return domain.Welcome{}, fmt.Errorf("giftwrap: welcome content: %w", err)
	}
	return domain.Welcome{
		Sender:         rumor.PubKey,
		InviteTargetID: domain.InviteTargetID(target),
		JoinMaterial:   join,
		Relays:         rumor.Tags.Values(domain.TagRelays),
		RumorID:        rumor.ID,
	}, nil
}
