package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_RespectsLevel(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := New(&buf, slog.LevelWarn)
	logger.Info("hidden")
	logger.Warn("room deleted", "room", "lab")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "room deleted")
	assert.Contains(t, out, "lab")
	assert.Same(t, logger, slog.Default())
}
