package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "mediarender/internal/contracts/render/v1"
)

func TestEventBusFanOut(t *testing.T) {
	eb := NewEventBus()
	a := eb.Subscribe("job_1")
	b := eb.Subscribe("job_1")
	other := eb.Subscribe("job_2")
	assert.Equal(t, 2, eb.Subscribers("job_1"))

	eb.Publish(v1.Job{ID: "job_1", Status: v1.JobRunning})

	assert.Equal(t, v1.JobRunning, (<-a).Status)
	assert.Equal(t, v1.JobRunning, (<-b).Status)
	assert.Len(t, other, 0)
}

func TestEventBusUnsubscribeCloses(t *testing.T) {
	eb := NewEventBus()
	ch := eb.Subscribe("job_1")
	eb.Unsubscribe("job_1", ch)

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, eb.Subscribers("job_1"))

	eb.Publish(v1.Job{ID: "job_1"})
}

func TestEventBusTerminalSurvivesFullBuffer(t *testing.T) {
	eb := NewEventBus()
	ch := eb.Subscribe("job_1")

	for i := 0; i < cap(ch)+5; i++ {
		eb.Publish(v1.Job{ID: "job_1", Status: v1.JobRunning, Progress: float64(i) / 100})
	}
	require.Len(t, ch, cap(ch))

	eb.Publish(v1.Job{ID: "job_1", Status: v1.JobSucceeded})

	var last v1.Job
	for len(ch) > 0 {
		last = <-ch
	}
	assert.Equal(t, v1.JobSucceeded, last.Status)
}
