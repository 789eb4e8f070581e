package models

import "time"

// Message is a delivery as seen by handlers and operator tools.
type Message struct {
	ID          string                 `json:"id"`
	Queue       string                 `json:"queue"`
	Body        []byte                 `json:"body"`
	Headers     map[string]interface{} `json:"headers"`
	ContentType string                 `json:"content_type"`
	Redelivered bool                   `json:"redelivered"`
	Timestamp   time.Time              `json:"timestamp"`
	// Payload is Body decoded into the registered payload type of Queue.
	Payload any `json:"-"`
}

// Header names carried on the wire. Changing them breaks interop with
// services already publishing to the same queues.
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderFailureReason = "x-failure-reason"
	HeaderOriginalQueue = "x-original-queue"
	HeaderReplayedAt    = "x-replayed-at"
)

// Physical queue suffixes for a logical queue.
const (
	RetrySuffix      = "-retry"
	DeadLetterSuffix = "-dlq"
)

const ContentTypeJSON = "application/json"

// DeadLetter is an archived dead-lettered message.
type DeadLetter struct {
	ID          string                 `json:"id" bson:"_id"`
	Queue       string                 `json:"queue" bson:"queue"`
	MessageID   string                 `json:"message_id,omitempty" bson:"message_id,omitempty"`
	Body        []byte                 `json:"body" bson:"body"`
	Headers     map[string]interface{} `json:"headers,omitempty" bson:"headers,omitempty"`
	RetryCount  int                    `json:"retry_count" bson:"retry_count"`
	Reason      string                 `json:"reason,omitempty" bson:"reason,omitempty"`
	ArchivedAt  time.Time              `json:"archived_at" bson:"archived_at"`
	PublishedAt time.Time              `json:"published_at,omitempty" bson:"published_at,omitempty"`
}
