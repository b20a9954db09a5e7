package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		level, format string
		want          zapcore.Level
		wantErr       bool
	}{
		{level: "info", format: "console", want: zapcore.InfoLevel},
		{level: "DEBUG", format: "json", want: zapcore.DebugLevel},
		{level: "warn", format: "", want: zapcore.WarnLevel},
		{level: "loud", format: "console", wantErr: true},
		{level: "info", format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.format, func(t *testing.T) {
			log, err := New(tt.level, tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, log.Desugar().Core().Enabled(tt.want))
			assert.False(t, log.Desugar().Core().Enabled(tt.want-1))
		})
	}
}
