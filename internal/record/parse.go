// SPDX-License-Identifier: MIT

package record

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// fieldDelim separates the columns of a multimon-ng FLEX raw line.
const fieldDelim = "|"

// minFields is the column count below which a line is treated as free text.
const minFields = 7

// extractRule pairs a pattern with a normalizer for the matched groups.
// Rules of a family are evaluated in fixed order; the first match wins.
type extractRule struct {
	re        *regexp.Regexp
	normalize func(match []string) string
}

func verbatim(match []string) string { return match[0] }

// prioRules recognizes Dutch P2000 priority codes. The alternation is kept
// in a single pattern so the leftmost occurrence wins regardless of which
// code family it belongs to.
var prioRules = []extractRule{
	{regexp.MustCompile(`(?i)\b(A[1-2]|B1|P[1-3]|PRIO\s?[1-5])\b`), verbatim},
}

// gripRules recognizes the GRIP upscaling level and normalizes spacing.
var gripRules = []extractRule{
	{regexp.MustCompile(`(?i)\bGRIP\s?([1-4])\b`), func(match []string) string {
		return "GRIP " + match[1]
	}},
}

// extract applies the rule family to the message and returns the normalized
// value of the first matching rule, or nil when nothing matched.
func extract(message string, rules []extractRule) *string {
	for _, rule := range rules {
		if match := rule.re.FindStringSubmatch(message); match != nil {
			v := rule.normalize(match)
			return &v
		}
	}
	return nil
}

// timeNow is swapped in tests.
var timeNow = time.Now

// Parse converts one decoded line into a Record. It never fails: lines with
// fewer than seven delimited fields become a record whose message is the
// whole line and whose structured sub-fields are empty.
//
// For well-formed lines, field 1 carries the decoder's own timestamp,
// field 4 the space-separated capcodes, and fields 5 onward (rejoined on the
// delimiter) the message body.
func Parse(line string) Record {
	parts := strings.Split(line, fieldDelim)

	var (
		message  = line
		capcodes = []string{}
		sourceTS *string
		prio     *string
		grip     *string
	)

	if len(parts) >= minFields {
		message = strings.TrimSpace(strings.Join(parts[5:], fieldDelim))
		if cc := strings.TrimSpace(parts[4]); cc != "" {
			capcodes = strings.Fields(cc)
		}
		ts := parts[1]
		sourceTS = &ts

		prio = extract(message, prioRules)
		grip = extract(message, gripRules)
	}

	now := timeNow().UTC()

	return Record{
		ID:              uuid.NewString(),
		Protocol:        "FLEX",
		TimestampUnix:   now.Unix(),
		TimestampISO:    now.Format(time.RFC3339),
		SourceTimestamp: sourceTS,
		Raw:             line,
		Data: Payload{
			Message:  message,
			Prio:     prio,
			Grip:     grip,
			Capcodes: capcodes,
		},
	}
}

// Fielded reports whether a line carries the expected delimited shape.
// Used for metrics labelling; Parse handles both shapes itself.
func Fielded(line string) bool {
	return strings.Count(line, fieldDelim) >= minFields-1
}
