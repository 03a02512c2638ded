// Package transcript encodes conversation messages into the plaintext payload
// of an encrypted transcript chunk, and buffers a live session's messages into
// chunks.
package transcript

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies who wrote a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleCoach Role = "coach"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleCoach
}

// TimestampLayout is RFC 3339 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Message is one turn of a coaching conversation.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Timestamp time.Time
}

// storedMessage is the JSON form of a Message inside a chunk.
type storedMessage struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// Serialize encodes messages as an ordered JSON array. Timestamps are
// truncated to the millisecond.
func Serialize(msgs []Message) ([]byte, error) {
	stored := make([]storedMessage, len(msgs))
	for i, m := range msgs {
		if !m.Role.Valid() {
			return nil, fmt.Errorf("transcript: message %d: unknown role %q", i, m.Role)
		}
		stored[i] = storedMessage{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp.UTC().Format(TimestampLayout),
		}
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("transcript: encoding messages: %w", err)
	}
	return data, nil
}

// Deserialize decodes a payload produced by Serialize. Timestamps come back
// in UTC.
func Deserialize(data []byte) ([]Message, error) {
	var stored []storedMessage
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("transcript: decoding messages: %w", err)
	}
	msgs := make([]Message, len(stored))
	for i, s := range stored {
		ts, err := time.Parse(time.RFC3339Nano, s.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("transcript: message %d timestamp: %w", i, err)
		}
		msgs[i] = Message{ID: s.ID, Role: s.Role, Content: s.Content, Timestamp: ts.UTC()}
	}
	return msgs, nil
}
