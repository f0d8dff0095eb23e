// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestUnstructuredLogsCheck tests the unstructuredLogs function
func TestUnstructuredLogsCheck(t *testing.T) { //nolint:paralleltest // mutates env
	tests := []struct {
		name     string
		envValue string
		expected bool
	}{
		{"Default Case", "", true},
		{"Explicitly True", "true", true},
		{"Explicitly False", "false", false},
		{"Invalid Value", "not-a-bool", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("UNSTRUCTURED_LOGS", tt.envValue)
			if got := unstructuredLogs(); got != tt.expected {
				t.Errorf("unstructuredLogs() = %v, want %v", got, tt.expected)
			}
		})
	}
}

// setSingletonForTest temporarily replaces the singleton logger and restores
// the original when the test completes.
func setSingletonForTest(t *testing.T, l *slog.Logger) {
	t.Helper()
	prev := singleton.Load()
	singleton.Store(l)
	t.Cleanup(func() { singleton.Store(prev) })
}

// TestLogLevels tests that each log function writes to the underlying handler.
func TestLogLevels(t *testing.T) { //nolint:paralleltest // mutates singleton
	var buf bytes.Buffer
	setSingletonForTest(t, slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	tests := []struct {
		name string
		log  func()
		want string
	}{
		{"Debugf", func() { Debugf("debug %s", "message") }, "debug message"},
		{"Infof", func() { Infof("info %s", "message") }, "info message"},
		{"Warnf", func() { Warnf("warn %s", "message") }, "warn message"},
		{"Errorf", func() { Errorf("error %s", "message") }, "error message"},
		{"Debugw", func() { Debugw("debug kv", "key", "value") }, "debug kv"},
		{"Infow", func() { Infow("info kv", "key", "value") }, "info kv"},
		{"Warnw", func() { Warnw("warn kv", "key", "value") }, "warn kv"},
		{"Errorw", func() { Errorw("error kv", "key", "value") }, "error kv"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.log()
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}

func TestGetReturnsInjectableLogger(t *testing.T) { //nolint:paralleltest // mutates singleton
	var buf bytes.Buffer
	setSingletonForTest(t, slog.New(slog.NewTextHandler(&buf, nil)))

	l := Get()
	require.NotNil(t, l)
	l.Info("injected")
	assert.Contains(t, buf.String(), "injected")
}
