package relay

import "huddle/internal/domain"

// NATS subjects spoken between clients and relay daemons.
const (
	SubjectPublish = "huddle.publish"
	SubjectQuery   = "huddle.query"
	SubjectEvents  = "huddle.events"
)

// PublishAck is a relay's answer to a publish request.
type PublishAck struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// QueryReply is a relay's answer to a query request.
type QueryReply struct {
	Events []domain.Event `json:"events"`
	Error  string         `json:"error,omitempty"`
}
