// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRecordID = "record_id"
	FieldQueue    = "queue"
	FieldHost     = "host"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldPID       = "pid"
	FieldCommand   = "command"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldFailures = "failures"
	FieldBackoff  = "backoff"

	// Radio fields
	FieldFrequency = "frequency"
	FieldProtocol  = "protocol"
)
