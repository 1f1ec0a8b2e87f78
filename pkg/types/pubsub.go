package types

import (
	"time"
)

// ReceivedMessage is a single envelope returned by a synchronous pull.
type ReceivedMessage struct {
	// AckID is the opaque token needed to acknowledge this delivery.
	AckID string
	// Message is nil when the backend delivered an envelope with no message body.
	Message *PubsubMessage
	// DeliveryAttempt is zero unless the subscription has a dead letter policy.
	DeliveryAttempt int
}

// PubsubMessage is the message carried inside a ReceivedMessage.
type PubsubMessage struct {
	// Data is the base64-encoded payload, as it appears on the REST wire.
	Data        string
	MessageID   string
	PublishTime time.Time
	Attributes  map[string]string
}

// DecodedMessage is what processors receive: the decoded payload plus the
// metadata of the message it came from.
type DecodedMessage struct {
	ID          string            `json:"id"`
	Payload     []byte            `json:"payload"`
	PublishTime time.Time         `json:"publishTime"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}
