package backend

import (
	"context"

	"sizeseg/internal/amqp"
	"sizeseg/internal/sheets"
)

// Sink stores committed snapshots and serves them back.
type Sink interface {
	sheets.SnapshotWriter
	sheets.SnapshotReader
	sheets.SnapshotLister
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult holds the snapshot sink and, when a broker is configured,
// the client used to announce saves. Publisher is nil otherwise.
type BackendResult struct {
	Sink      Sink
	Publisher *amqp.Client
	Cleanup   CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// Optional broker
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}
