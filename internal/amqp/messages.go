package amqp

import (
	"encoding/json"
	"time"
)

// SheetSavedMessage announces a committed sheet snapshot.
// It carries only the reference; consumers load the snapshot from the store.
type SheetSavedMessage struct {
	Ref        string    `json:"ref"`
	Version    uint64    `json:"version"`
	Rows       int       `json:"rows"`
	RuleActive bool      `json:"rule_active"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewSheetSavedMessage(ref string, version uint64, rows int, ruleActive bool) *SheetSavedMessage {
	return &SheetSavedMessage{
		Ref:        ref,
		Version:    version,
		Rows:       rows,
		RuleActive: ruleActive,
		Timestamp:  time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *SheetSavedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// SheetSavedMessageFromJSON creates a message from JSON bytes
func SheetSavedMessageFromJSON(data []byte) (*SheetSavedMessage, error) {
	var msg SheetSavedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
