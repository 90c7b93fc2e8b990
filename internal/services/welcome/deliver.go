package welcome

import (
	"context"

	"huddle/internal/domain"
	"huddle/internal/services/invite"
)

// DeliverAll sends joinMaterial to every target. An owner counts as added
// when at least one of its targets was reached; otherwise it fails with the
// last delivery error.
func DeliverAll(
	ctx context.Context,
	welcomes domain.WelcomeService,
	targets []domain.ResolvedInviteTarget,
	joinMaterial []byte,
	groupRelays []string,
) ([]domain.Identity, []domain.MemberFailure) {
	reached := make(map[domain.Identity]bool)
	lastErr := make(map[domain.Identity]error)
	for _, rt := range targets {
		if err := welcomes.Send(ctx, rt.Target, joinMaterial, groupRelays); err != nil {
			lastErr[rt.Target.Owner] = err
			continue
		}
		reached[rt.Target.Owner] = true
	}

	var (
		added  []domain.Identity
		failed []domain.MemberFailure
	)
	for _, who := range invite.Owners(targets) {
		if reached[who] {
			added = append(added, who)
			continue
		}
		failed = append(failed, domain.MemberFailure{Identity: who, Err: lastErr[who]})
	}
	return added, failed
}
