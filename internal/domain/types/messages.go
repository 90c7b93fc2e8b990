package types

// DeliveryStatus tracks a locally originated message through the transport.
// Messages that were only ever received carry the empty status.
type DeliveryStatus string

const (
	StatusReceived DeliveryStatus = ""
	StatusSending  DeliveryStatus = "sending"
	StatusSent     DeliveryStatus = "sent"
	StatusFailed   DeliveryStatus = "failed"
)

// MediaRef points at an attachment stored outside the message.
type MediaRef struct {
	URL      string `json:"url" cbor:"1,keyasint"`
	MimeType string `json:"mime_type,omitempty" cbor:"2,keyasint,omitempty"`
	SHA256   string `json:"sha256,omitempty" cbor:"3,keyasint,omitempty"`
}

// ChatMessage is a message in a conversation's timeline.
//
// An Undecryptable message is an inert placeholder for ciphertext that could
// not be opened: its Content is always empty and its Sender is the
// transport-level author of the envelope.
type ChatMessage struct {
	ID             MessageID      `json:"id" cbor:"1,keyasint"`
	ConversationID GroupID        `json:"conversation_id" cbor:"2,keyasint"`
	Sender         Identity       `json:"sender" cbor:"3,keyasint"`
	Content        string         `json:"content" cbor:"4,keyasint"`
	Timestamp      int64          `json:"timestamp" cbor:"5,keyasint"`
	Status         DeliveryStatus `json:"status,omitempty" cbor:"6,keyasint,omitempty"`
	Undecryptable  bool           `json:"undecryptable,omitempty" cbor:"7,keyasint,omitempty"`
	Media          []MediaRef     `json:"media,omitempty" cbor:"8,keyasint,omitempty"`
}
