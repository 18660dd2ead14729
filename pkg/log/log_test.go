package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDerivedLoggersEmitFields tests that loggers derived through the
// context helpers carry their field and level methods work on the
// assigned value
func TestDerivedLoggersEmitFields(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	tests := []struct {
		name  string
		field string
		value string
		emit  func()
	}{
		{
			name:  "component",
			field: "component",
			value: "provision",
			emit: func() {
				logger := WithComponent("provision")
				logger.Info().Msg("pulling image")
			},
		},
		{
			name:  "workload id",
			field: "workload_id",
			value: "w1",
			emit: func() {
				logger := WithWorkloadID("w1")
				logger.Warn().Msg("provisioning failed")
			},
		},
		{
			name:  "container id",
			field: "container_id",
			value: "w1-abc123",
			emit: func() {
				logger := WithContainerID("w1-abc123")
				logger.Error().Msg("malformed label")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.emit()

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tt.value, entry[tt.field])
		})
	}
}

// TestLevelFiltering tests that entries below the configured level are
// suppressed
func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})

	logger := WithComponent("state")
	logger.Info().Msg("ignored")
	assert.Empty(t, buf.Bytes())

	logger.Warn().Msg("kept")
	assert.NotEmpty(t, buf.Bytes())
}
