package sweeper

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScheduler_ValidatesSpec(t *testing.T) {
	swp, _, _ := newTestSweeper(t)

	_, err := NewScheduler(slog.Default(), swp, "not a cron expression")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid sweep schedule")

	scheduler, err := NewScheduler(slog.Default(), swp, "*/5 * * * *")
	require.NoError(t, err)
	assert.NotNil(t, scheduler)
}
