package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-rewards/backend/internal/models"
)

func TestPromptQueueFIFO(t *testing.T) {
	var q promptQueue
	now := time.Now()

	assert.Nil(t, q.active())

	head := q.push(seekPrompt(10, 40, now))
	assert.True(t, head, "first push becomes active")
	head = q.push(speedPrompt(2, now))
	assert.False(t, head, "second push queues behind")

	require.NotNil(t, q.active())
	assert.Equal(t, models.PromptSeek, q.active().Kind)

	next := q.pop()
	require.NotNil(t, next)
	assert.Equal(t, models.PromptSpeed, next.Kind)

	assert.Nil(t, q.pop())
	assert.Nil(t, q.active())
}

func TestPromptQueueDedupByKind(t *testing.T) {
	var q promptQueue
	now := time.Now()

	q.push(tabPrompt(now))
	added := q.push(tabPrompt(now.Add(time.Second)))
	assert.False(t, added)
	assert.Len(t, q.items, 1)
}

func TestPromptQueueClear(t *testing.T) {
	var q promptQueue
	now := time.Now()
	q.push(pausePrompt(6, 140, now))
	q.push(refreshPrompt(now))
	q.clear()
	assert.Nil(t, q.active())
}

func TestPromptMessagesCarryFigures(t *testing.T) {
	p := seekPrompt(10, 45, time.Now())
	assert.Contains(t, p.Message, "35 seconds")

	p = pausePrompt(6, 140, time.Now())
	assert.Contains(t, p.Message, "6 times")
	assert.Contains(t, p.Message, "140 seconds")

	p = speedPrompt(1.75, time.Now())
	assert.Contains(t, p.Message, "1.75x")
}
