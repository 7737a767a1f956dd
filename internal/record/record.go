// SPDX-License-Identifier: MIT

// Package record converts decoded pager lines into structured event records.
package record

import "time"

// Record is the unit of output: one decoded pager line, normalized.
// It is created once per line, serialized, published, and never mutated.
type Record struct {
	ID              string  `json:"id"`
	Protocol        string  `json:"protocol"`
	TimestampUnix   int64   `json:"timestamp_unix"`
	TimestampISO    string  `json:"timestamp_iso"`
	SourceTimestamp *string `json:"source_timestamp"`
	Raw             string  `json:"raw"`
	Data            Payload `json:"data"`
}

// Payload carries the fields extracted from the message body.
type Payload struct {
	// Message is never absent: lines that do not match the expected
	// field-delimited shape fall back to the whole raw line.
	Message string `json:"message"`

	// Prio is the alarm priority code found in the message, verbatim,
	// nil when no known pattern matched.
	Prio *string `json:"prio"`

	// Grip is the normalized upscaling level ("GRIP <1-4>"), nil when absent.
	Grip *string `json:"grip"`

	// Capcodes are the addressed receiver codes, in line order.
	Capcodes []string `json:"capcodes"`
}

// CapturedAt reports the parse-time capture instant.
func (r Record) CapturedAt() time.Time {
	return time.Unix(r.TimestampUnix, 0).UTC()
}
