// SPDX-License-Identifier: MIT

package pipeline

// State is the coordinator's lifecycle state.
type State string

const (
	// StateConnecting covers broker connect (with its internal retry) and
	// decoder pipeline startup.
	StateConnecting State = "connecting"

	// StateRunning is the steady state: read, parse, publish.
	StateRunning State = "running"

	// StateFailed is transient: teardown, backoff, then connecting again.
	StateFailed State = "failed"

	// StateStopped is terminal, reached only on shutdown request.
	StateStopped State = "stopped"
)
