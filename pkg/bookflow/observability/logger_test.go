package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newBufLogger returns a debug-level JSON logger writing into buf.
func newBufLogger() (*slog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	logger := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	return logger, buf
}

// decodeRecords parses each JSON line in buf into a map.
func decodeRecords(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		records = append(records, rec)
	}
	return records
}

func TestEnrichLogger(t *testing.T) {
	t.Run("adds workflow fields to every record", func(t *testing.T) {
		logger, buf := newBufLogger()

		enriched := EnrichLogger(logger, "create_booking", "exec-1", "bk-1")
		enriched.Info("hello")

		records := decodeRecords(t, buf)
		require.Len(t, records, 1)
		assert.Equal(t, "create_booking", records[0]["workflow"])
		assert.Equal(t, "exec-1", records[0]["execution_id"])
		assert.Equal(t, "bk-1", records[0]["booking_id"])
	})

	t.Run("nil logger returns nil", func(t *testing.T) {
		assert.Nil(t, EnrichLogger(nil, "w", "e", "b"))
	})
}

func TestWorkflowLogging(t *testing.T) {
	t.Run("start and complete", func(t *testing.T) {
		logger, buf := newBufLogger()

		LogWorkflowStart(logger, "create_booking", "exec-1")
		LogWorkflowComplete(logger, "create_booking", "exec-1", 12.5, 6)

		records := decodeRecords(t, buf)
		require.Len(t, records, 2)
		assert.Equal(t, "workflow starting", records[0]["msg"])
		assert.Equal(t, "workflow completed", records[1]["msg"])
		assert.Equal(t, 12.5, records[1]["duration_ms"])
		assert.Equal(t, float64(6), records[1]["steps_executed"])
	})

	t.Run("error carries failed step", func(t *testing.T) {
		logger, buf := newBufLogger()

		LogWorkflowError(logger, "create_booking", "exec-1", errors.New("declined"), 3.0, "process_payment")

		records := decodeRecords(t, buf)
		require.Len(t, records, 1)
		assert.Equal(t, "ERROR", records[0]["level"])
		assert.Equal(t, "declined", records[0]["error"])
		assert.Equal(t, "process_payment", records[0]["failed_step"])
	})

	t.Run("nil logger is safe", func(t *testing.T) {
		assert.NotPanics(t, func() {
			LogWorkflowStart(nil, "w", "e")
			LogWorkflowComplete(nil, "w", "e", 0, 0)
			LogWorkflowError(nil, "w", "e", errors.New("x"), 0, "s")
		})
	})
}

func TestStepLogging(t *testing.T) {
	logger, buf := newBufLogger()

	LogStepStart(logger, "reserve_calendar")
	LogStepComplete(logger, "reserve_calendar", 1.5)
	LogStepError(logger, "process_payment", errors.New("declined"))

	records := decodeRecords(t, buf)
	require.Len(t, records, 3)
	assert.Equal(t, "DEBUG", records[0]["level"])
	assert.Equal(t, "reserve_calendar", records[0]["step"])
	assert.Equal(t, 1.5, records[1]["duration_ms"])
	assert.Equal(t, "ERROR", records[2]["level"])
	assert.Equal(t, "declined", records[2]["error"])
}

func TestLogCompensation(t *testing.T) {
	t.Run("success logs at info", func(t *testing.T) {
		logger, buf := newBufLogger()

		LogCompensation(logger, "reserve_calendar", nil)

		records := decodeRecords(t, buf)
		require.Len(t, records, 1)
		assert.Equal(t, "compensation applied", records[0]["msg"])
	})

	t.Run("failure logs at warn", func(t *testing.T) {
		logger, buf := newBufLogger()

		LogCompensation(logger, "reserve_calendar", errors.New("release failed"))

		records := decodeRecords(t, buf)
		require.Len(t, records, 1)
		assert.Equal(t, "WARN", records[0]["level"])
		assert.Equal(t, "release failed", records[0]["error"])
	})
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	time.Sleep(5 * time.Millisecond)
	elapsed := done()
	assert.GreaterOrEqual(t, elapsed, float64(1))
}
