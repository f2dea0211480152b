// Package metadata holds the headers carried next to OBP messages on the queue.
package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// Header keys set on inbound and outbound messages.
const (
	KeyCorrelationID = "correlation_id"
	KeyOperation     = "obp_operation"
	KeyResultKind    = "obp_result"
	KeyAdapter       = "obp_adapter"
	KeyInReplyTo     = "obp_in_reply_to"
)

// Metadata represents the headers carried alongside a message.
type Metadata map[string]string

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	cloned := make(Metadata, len(m))
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.Clone()
	cloned[key] = value
	return cloned
}

// CorrelationID returns the correlation id header, if present.
func (m Metadata) CorrelationID() string {
	return m[KeyCorrelationID]
}

// FromWatermill copies Watermill metadata.
func FromWatermill(md message.Metadata) Metadata {
	result := make(Metadata, len(md))
	for k, v := range md {
		result[k] = v
	}
	return result
}

// ToWatermill copies metadata into a Watermill map. Empty values are skipped.
func ToWatermill(md Metadata) message.Metadata {
	wm := make(message.Metadata, len(md))
	for k, v := range md {
		if v == "" {
			continue
		}
		wm[k] = v
	}
	return wm
}
