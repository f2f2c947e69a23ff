package bus

import (
	"github.com/drblury/evbus/errs"
	"github.com/drblury/evbus/ids"
)

// DefaultSchemaVersion is used whenever a caller does not specify one.
const DefaultSchemaVersion = "1.0"

// CausationEntry is one (module, event-type) pair recorded in an envelope's
// causation path.
type CausationEntry struct {
	Module    string
	EventType string
}

// Envelope is the immutable message value passed through publish and
// transact. Once constructed it is never mutated; every derivation returns a
// new value.
type Envelope struct {
	MessageID     string
	CorrelationID string
	CausationPath []CausationEntry
	MessageType   string
	Module        string
	SchemaVersion string
	Payload       any
}

// RootOptions configures the construction of a root envelope.
type RootOptions struct {
	CorrelationID string
	SchemaVersion string
	Module        string
}

// NewRootEnvelope builds a fresh envelope with no ancestry. Module is
// required; CorrelationID and SchemaVersion default when left empty.
func NewRootEnvelope(eventType string, payload any, opts RootOptions) (Envelope, error) {
	if opts.Module == "" {
		return Envelope{}, errs.ErrMissingModule
	}
	if eventType == "" {
		return Envelope{}, errs.ErrMissingEventType
	}

	correlationID := opts.CorrelationID
	if correlationID == "" {
		correlationID = ids.CreateULID()
	}
	schemaVersion := opts.SchemaVersion
	if schemaVersion == "" {
		schemaVersion = DefaultSchemaVersion
	}

	return Envelope{
		MessageID:     ids.CreateULID(),
		CorrelationID: correlationID,
		CausationPath: nil,
		MessageType:   eventType,
		Module:        opts.Module,
		SchemaVersion: schemaVersion,
		Payload:       payload,
	}, nil
}

// DeriveOptions configures the derivation of a child envelope from a parent.
type DeriveOptions struct {
	Module   string
	MaxDepth int
}

// DeriveEnvelope builds a new envelope caused by parent, checking for cycles
// and excess depth before construction. The cycle check runs before the
// depth check; comparison of causation pairs is exact value equality.
func DeriveEnvelope(parent Envelope, newEventType string, newPayload any, opts DeriveOptions) (Envelope, error) {
	newPath := make([]CausationEntry, len(parent.CausationPath), len(parent.CausationPath)+1)
	copy(newPath, parent.CausationPath)
	newPath = append(newPath, CausationEntry{Module: parent.Module, EventType: parent.MessageType})

	candidate := CausationEntry{Module: opts.Module, EventType: newEventType}
	for _, entry := range newPath {
		if entry == candidate {
			return Envelope{}, errs.ErrCycleDetected
		}
	}
	if opts.MaxDepth > 0 && len(newPath) > opts.MaxDepth {
		return Envelope{}, errs.ErrMaxDepthExceeded
	}

	child, err := NewRootEnvelope(newEventType, newPayload, RootOptions{
		CorrelationID: parent.CorrelationID,
		Module:        opts.Module,
	})
	if err != nil {
		return Envelope{}, err
	}
	child.CausationPath = newPath
	return child, nil
}
