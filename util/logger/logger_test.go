package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandleWritesTimeLevelMessage(t *testing.T) {
	var buf bytes.Buffer
	debug := true
	h := NewHandler(&buf, nil, &debug)
	log := slog.New(h)
	log.Info("block cache full")

	out := buf.String()
	assert.Contains(t, out, "INFO:")
	assert.Contains(t, out, "block cache full")
}

func TestHandleAppendsAttrValues(t *testing.T) {
	var buf bytes.Buffer
	debug := true
	h := NewHandler(&buf, nil, &debug)
	log := slog.New(h)
	log.Info("evicted block", slog.Int("phys", 4096))

	assert.Contains(t, buf.String(), "4096")
}

func TestSetDebugIsReadLiveFromThePointer(t *testing.T) {
	var buf bytes.Buffer
	debug := false
	h := NewHandler(&buf, nil, &debug)
	log := slog.New(h)
	log.Debug("quiet")
	assert.Equal(t, 0, strings.Count(buf.String(), "quiet"))

	debug = true
	log.Debug("loud")
	assert.Contains(t, buf.String(), "loud")
}

func TestNewHandlerDefaultsDebugFalseWhenNilPointer(t *testing.T) {
	var buf bytes.Buffer
	h := NewHandler(&buf, nil, nil)
	assert.False(t, h.debug)
}
