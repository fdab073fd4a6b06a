// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parlor Contributors

package errutil_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlor/parlor/pkg/errutil"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogError_WithOopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.Code("ACCOUNT_STORE_UNAVAILABLE").
		With("username", "amy").
		Errorf("store timed out")

	errutil.LogError(context.Background(), logger, "register failed", err, "conn_id", "c1")

	entry := decode(t, &buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "register failed", entry["msg"])
	assert.Equal(t, "ACCOUNT_STORE_UNAVAILABLE", entry["code"])
	assert.Equal(t, "c1", entry["conn_id"])
	ctxAttr, ok := entry["context"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "amy", ctxAttr["username"])
}

func TestLogError_WithStandardError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errutil.LogError(context.Background(), logger, "operation failed", errors.New("standard error"))

	entry := decode(t, &buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.Contains(t, entry["error"], "standard error")
	assert.NotContains(t, entry, "code")
}

func TestLogWarn(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errutil.LogWarn(context.Background(), logger, "emit failed", oops.Errorf("closed"))

	entry := decode(t, &buf)
	assert.Equal(t, "WARN", entry["level"])
	assert.NotContains(t, entry, "code")
}
