package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{
			name: "defaults",
			cfg:  nil,
		},
		{
			name: "console format",
			cfg:  &Config{Level: "debug", Format: "console"},
		},
		{
			name:    "invalid level",
			cfg:     &Config{Level: "verbose"},
			wantErr: true,
		},
		{
			name:    "invalid format",
			cfg:     &Config{Format: "xml"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
		})
	}
}

func TestLoggerLevels(t *testing.T) {
	logger, err := New(&Config{Level: "warn"})
	require.NoError(t, err)

	assert.False(t, logger.Enabled(zapcore.DebugLevel))
	assert.False(t, logger.Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Enabled(zapcore.WarnLevel))
	assert.True(t, logger.Enabled(zapcore.ErrorLevel))
}

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	ctx = WithScope(ctx, &Scope{Project: "acme", Dataset: "docs"})
	ctx = WithOperationID(ctx, "op-123")
	ctx = WithRequestID(ctx, "req-456")

	fields := ContextFields(ctx)
	assert.Len(t, fields, 4)

	assert.Equal(t, "acme", ScopeFromContext(ctx).Project)
	assert.Equal(t, "op-123", OperationIDFromContext(ctx))
	assert.Equal(t, "req-456", RequestIDFromContext(ctx))
}

func TestScopeWithoutDataset(t *testing.T) {
	ctx := WithScope(context.Background(), &Scope{Project: "acme"})
	fields := ContextFields(ctx)
	assert.Len(t, fields, 1)
}
