package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCountsAgainstQuota(t *testing.T) {
	at := time.Now().Add(time.Hour)
	assert.False(t, ScheduleSpec{Mode: ModeDraft}.CountsAgainstQuota())
	assert.True(t, ScheduleSpec{Mode: ModePublish}.CountsAgainstQuota())
	assert.True(t, ScheduleSpec{Mode: ModeSchedule, At: &at}.CountsAgainstQuota())
}

func TestRunStatusTerminal(t *testing.T) {
	assert.False(t, RunPending.Terminal())
	assert.False(t, RunRunning.Terminal())
	assert.True(t, RunSucceeded.Terminal())
	assert.True(t, RunFailed.Terminal())
	assert.True(t, RunReplayable.Terminal())
}
