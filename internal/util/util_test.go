package util

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewLoggerLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewLoggerTo(&buf, "warn")
	assert.Equal(t, zerolog.WarnLevel, log.GetLevel())

	log.Info().Msg("hidden")
	assert.Zero(t, buf.Len())
	log.Warn().Msg("shown")
	assert.Contains(t, buf.String(), `"message":"shown"`)

	assert.Equal(t, zerolog.InfoLevel, NewLoggerTo(&buf, "loud").GetLevel())
	assert.Equal(t, zerolog.InfoLevel, NewLoggerTo(&buf, "").GetLevel())
}

func TestManualClock(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start)
	assert.Equal(t, start, c.Now())
	assert.Equal(t, start.Add(time.Second), c.Advance(time.Second))
	c.Set(start)
	assert.Equal(t, start, c.Now())

	var _ Clock = RealClock{}
	assert.Equal(t, time.UTC, RealClock{}.Now().Location())
}
