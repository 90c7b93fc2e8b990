package types

import "slices"

// Event kinds carried by the transport.
const (
	KindTombstone   = 5
	KindChatMessage = 9
	// KindGroupCommit is the inner kind of a group envelope carrying an
	// engine commit.
	KindGroupCommit  = 446
	KindSeal         = 13
	KindInviteTarget = 443
	KindWelcome      = 444
	KindGroupMessage = 445
	KindGiftWrap     = 1059
)

// Tag names.
const (
	TagEvent        = "e"
	TagPubKey       = "p"
	TagGroup        = "h"
	TagRelays       = "relays"
	TagCipherSuite  = "cipher_suite"
	TagCapabilities = "capabilities"
	TagEncoding     = "encoding"
	TagEpoch        = "epoch"
)

// Tag is a single event tag: a name followed by values.
type Tag []string

// Name returns the tag name or "".
func (t Tag) Name() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the first value or "".
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// Tags is an ordered tag list.
type Tags []Tag

// Find returns the first tag called name.
func (ts Tags) Find(name string) (Tag, bool) {
	for _, t := range ts {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

// Value returns the first value of the first tag called name.
func (ts Tags) Value(name string) string {
	t, _ := ts.Find(name)
	return t.Value()
}

// Values returns all values of the first tag called name.
func (ts Tags) Values(name string) []string {
	t, ok := ts.Find(name)
	if !ok || len(t) < 2 {
		return nil
	}
	return append([]string(nil), t[1:]...)
}

// All returns the first value of every tag called name.
func (ts Tags) All(name string) []string {
	var out []string
	for _, t := range ts {
		if t.Name() == name && len(t) > 1 {
			out = append(out, t[1])
		}
	}
	return out
}

// Event is the signed envelope exchanged over the transport. An event with an
// empty Sig is a rumor: it has a valid ID but is not attributable.
type Event struct {
	ID        string   `json:"id"`
	PubKey    Identity `json:"pubkey"`
	CreatedAt int64    `json:"created_at"`
	Kind      int      `json:"kind"`
	Tags      Tags     `json:"tags"`
	Content   string   `json:"content"`
	Sig       string   `json:"sig,omitempty"`
}

// Filter selects events for subscriptions and queries. Empty fields match
// everything; Tags maps a tag name to accepted first values.
type Filter struct {
	IDs     []string            `json:"ids,omitempty"`
	Kinds   []int               `json:"kinds,omitempty"`
	Authors []Identity          `json:"authors,omitempty"`
	Tags    map[string][]string `json:"tags,omitempty"`
	Since   int64               `json:"since,omitempty"`
	Until   int64               `json:"until,omitempty"`
	Limit   int                 `json:"limit,omitempty"`
}

// Matches reports whether ev satisfies every constraint in f. Limit is not
// considered.
func (f Filter) Matches(ev Event) bool {
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, ev.ID) {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, ev.Kind) {
		return false
	}
	if len(f.Authors) > 0 && !slices.Contains(f.Authors, ev.PubKey) {
		return false
	}
	if f.Since > 0 && ev.CreatedAt < f.Since {
		return false
	}
	if f.Until > 0 && ev.CreatedAt > f.Until {
		return false
	}
	for name, want := range f.Tags {
		found := false
		for _, v := range ev.Tags.All(name) {
			if slices.Contains(want, v) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// PublishResult is the outcome of one publish at one endpoint.
type PublishResult struct {
	Endpoint string `json:"endpoint"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}
