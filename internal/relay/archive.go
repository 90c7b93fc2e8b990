package relay

import (
	"cmp"
	"slices"
	"sync"

	"huddle/internal/domain"
	"huddle/internal/protocol/event"
)

// Archive is the event store behind one relay endpoint. Tombstones (kind 5)
// hide the events they reference when the tombstone author owns them.
type Archive struct {
	mu      sync.RWMutex
	events  map[string]domain.Event
	deleted map[string]domain.Identity
}

// NewArchive returns an empty Archive.
func NewArchive() *Archive {
	return &Archive{
		events:  make(map[string]domain.Event),
		deleted: make(map[string]domain.Identity),
	}
}

// Accept verifies and stores ev. fresh is false for events already held, so
// callers only fan out new events.
func (a *Archive) Accept(ev domain.Event) (ack PublishAck, fresh bool) {
	if err := event.Verify(ev); err != nil {
		return PublishAck{Reason: "invalid: " + err.Error()}, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if owner, ok := a.deleted[ev.ID]; ok && owner == ev.PubKey {
		return PublishAck{Reason: "deleted: event was tombstoned"}, false
	}
	if _, ok := a.events[ev.ID]; ok {
		return PublishAck{OK: true, Reason: "duplicate"}, false
	}
	a.events[ev.ID] = ev
	if ev.Kind == domain.KindTombstone {
		for _, id := range ev.Tags.All(domain.TagEvent) {
			a.deleted[id] = ev.PubKey
		}
	}
	return PublishAck{OK: true}, true
}

// Query returns matching events newest first, honouring Limit.
func (a *Archive) Query(f domain.Filter) []domain.Event {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []domain.Event
	for _, ev := range a.events {
		if owner, ok := a.deleted[ev.ID]; ok && owner == ev.PubKey {
			continue
		}
		if f.Matches(ev) {
			out = append(out, ev)
		}
	}
	sortNewestFirst(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Len returns the number of stored events.
func (a *Archive) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.events)
}

func sortNewestFirst(evs []domain.Event) {
	slices.SortFunc(evs, func(x, y domain.Event) int {
		if c := cmp.Compare(y.CreatedAt, x.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(x.ID, y.ID)
	})
}

// merge unions per-endpoint snapshots, drops duplicate ids and applies the
// filter limit.
func merge(f domain.Filter, snapshots ...[]domain.Event) []domain.Event {
	seen := make(map[string]struct{})
	var out []domain.Event
	for _, snap := range snapshots {
		for _, ev := range snap {
			if _, ok := seen[ev.ID]; ok {
				continue
			}
			seen[ev.ID] = struct{}{}
			out = append(out, ev)
		}
	}
	sortNewestFirst(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// outcome turns per-endpoint results into the Publish return values.
func outcome(results []domain.PublishResult) ([]domain.PublishResult, error) {
	for _, r := range results {
		if r.Accepted {
			return results, nil
		}
	}
	return results, &domain.TransportError{Results: results}
}
