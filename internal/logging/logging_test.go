package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr string
	}{
		{name: "defaults", opts: Options{}},
		{name: "debug text", opts: Options{Level: "debug", Format: "text"}},
		{name: "json", opts: Options{Level: "info", Format: "JSON"}},
		{name: "bad level", opts: Options{Level: "loud"}, wantErr: "invalid log level"},
		{name: "bad format", opts: Options{Format: "xml"}, wantErr: "invalid log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.opts)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestSubsystemHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "trace", Format: "json", Output: &buf})
	require.NoError(t, err)

	ctx := WithLogger(context.Background(), logger)

	SubsystemDebug(ctx, SubsystemLDAP, "Starting search", map[string]any{
		"filter": "(objectClass=user)",
		"page":   1,
	})

	line := strings.TrimSpace(buf.String())
	require.NotEmpty(t, line)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &record))
	assert.Equal(t, "Starting search", record["@message"])
	assert.Equal(t, "adusers.ldap", record["@module"])
	assert.Equal(t, "(objectClass=user)", record["filter"])
	assert.EqualValues(t, 1, record["page"])
}

func TestSubsystemHelpers_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "warn", Output: &buf})
	require.NoError(t, err)

	ctx := WithLogger(context.Background(), logger)
	SubsystemDebug(ctx, SubsystemDirectory, "hidden")
	SubsystemInfo(ctx, SubsystemDirectory, "hidden too")
	assert.Empty(t, buf.String())

	SubsystemWarn(ctx, SubsystemDirectory, "visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestFlatten(t *testing.T) {
	args := flatten([]map[string]any{
		{"b": 2, "a": 1},
		{"b": 3},
	})
	assert.Equal(t, []any{"a", 1, "b", 3}, args)
	assert.Nil(t, flatten(nil))
}

func TestFromContext_Default(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))
}
