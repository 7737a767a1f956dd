// SPDX-License-Identifier: MIT

package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caelyn-nl/pagerstream/internal/metrics"
)

func TestSinkAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	s, err := Open(path)
	require.NoError(t, err)

	s.WriteRecord([]byte(`{"id":"abc"}`))
	s.WriteEvent("pipeline.restart", map[string]string{"trigger": "publish_error"})
	s.Close()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		lines = append(lines, entry)
	}

	require.Len(t, lines, 2)
	assert.Equal(t, "abc", lines[0]["id"])
	assert.Equal(t, "pipeline.restart", lines[1]["event"])
}

func TestSinkAppendsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	s1, err := Open(path)
	require.NoError(t, err)
	s1.WriteRecord([]byte(`{"n":1}`))
	s1.Close()

	s2, err := Open(path)
	require.NoError(t, err)
	s2.WriteRecord([]byte(`{"n":2}`))
	s2.Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"n\":1}\n{\"n\":2}\n", string(data))
}

func TestNilSinkIsSafe(t *testing.T) {
	var s *Sink
	assert.NotPanics(t, func() {
		s.WriteRecord([]byte("x"))
		s.WriteEvent("shutdown", nil)
		s.Close()
	})
}

func TestWriteFailureIsSwallowedAndCounted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	s, err := Open(path)
	require.NoError(t, err)

	// Close the file behind the sink's back; subsequent writes fail.
	require.NoError(t, s.f.Close())

	before := testutil.ToFloat64(metrics.AuditWriteFailures)
	assert.NotPanics(t, func() { s.WriteRecord([]byte(`{"id":"x"}`)) })
	after := testutil.ToFloat64(metrics.AuditWriteFailures)

	assert.Equal(t, before+1, after)
}
