// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextCorrelationIDs(t *testing.T) {
	ctx := context.Background()

	assert.Empty(t, RequestIDFromContext(ctx))
	assert.Empty(t, TaskIDFromContext(ctx))

	ctx = ContextWithRequestID(ctx, "req-1")
	ctx = ContextWithTaskID(ctx, "task-9")

	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "task-9", TaskIDFromContext(ctx))
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Output: &buf, Service: "test"})

	ctx := ContextWithRequestID(context.Background(), "req-2")
	ctx = ContextWithTaskID(ctx, "task-2")

	l := WithComponentFromContext(ctx, "unit")
	l.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-2", entry["request_id"])
	assert.Equal(t, "task-2", entry["task_id"])
	assert.Equal(t, "unit", entry["component"])
}

func TestWithContextNilSafe(t *testing.T) {
	l := WithComponent("unit")
	// Must not panic and must return the logger unchanged.
	got := WithContext(nil, l) //nolint:staticcheck
	got.Info().Msg("ok")
}
