package invite

import (
	"slices"

	"huddle/internal/domain"
)

// Owners returns the distinct owners of targets in order.
func Owners(targets []domain.ResolvedInviteTarget) []domain.Identity {
	var out []domain.Identity
	for _, rt := range targets {
		if !slices.Contains(out, rt.Target.Owner) {
			out = append(out, rt.Target.Owner)
		}
	}
	return out
}
