// Package relay provides the domain.Transport implementations used by huddle
// and the event archive that relay endpoints run.
//
// A relay endpoint accepts signed events, stores them, answers filter
// queries and pushes newly accepted events to live subscribers. Delivery is
// at-least-once and unordered: a client subscribed through several
// endpoints sees one copy per endpoint.
//
// Two transports are provided:
//   - Memory: endpoints live inside the process on a shared Hub. Used by
//     tests and by the default single-user configuration.
//   - NATS: every endpoint is a NATS server with a relay daemon (cmd/relay)
//     attached. Publish and Query are request/reply; live events fan out on
//     SubjectEvents.
//
// Publish succeeds when at least one endpoint accepted the event. When none
// did, the returned error is a *domain.TransportError carrying every
// endpoint's reason.
package relay
