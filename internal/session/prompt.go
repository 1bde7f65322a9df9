package session

import (
	"fmt"
	"time"

	"github.com/aura-rewards/backend/internal/models"
)

// Prompt builders. Every prompt offers the same two choices: "stay and earn"
// (clears the flag and corrects playback) or "proceed anyway" (keeps the flag
// and forfeits the reward).

func seekPrompt(safeTime, jumpTo float64, at time.Time) *models.ConsentPrompt {
	return &models.ConsentPrompt{
		Kind:     models.PromptSeek,
		Title:    "Skipping detected",
		Message:  fmt.Sprintf("You skipped ahead %.0f seconds. Skipped videos don't earn rewards.", jumpTo-safeTime),
		SafeTime: safeTime,
		JumpTo:   jumpTo,
		RaisedAt: at,
	}
}

func speedPrompt(rate float64, at time.Time) *models.ConsentPrompt {
	return &models.ConsentPrompt{
		Kind:     models.PromptSpeed,
		Title:    "Speed change detected",
		Message:  fmt.Sprintf("Playback at %.2fx doesn't earn rewards. Speed has been reset to 1x.", rate),
		RaisedAt: at,
	}
}

func pausePrompt(count int, totalSec float64, at time.Time) *models.ConsentPrompt {
	return &models.ConsentPrompt{
		Kind:     models.PromptPause,
		Title:    "Too much pausing",
		Message:  fmt.Sprintf("You paused %d times for a total of %.0f seconds. Heavily paused videos don't earn rewards.", count, totalSec),
		RaisedAt: at,
	}
}

func tabPrompt(at time.Time) *models.ConsentPrompt {
	return &models.ConsentPrompt{
		Kind:     models.PromptTab,
		Title:    "Tab switch detected",
		Message:  "You switched away during playback. Videos watched in the background don't earn rewards.",
		RaisedAt: at,
	}
}

func refreshPrompt(at time.Time) *models.ConsentPrompt {
	return &models.ConsentPrompt{
		Kind:     models.PromptRefresh,
		Title:    "Leaving already?",
		Message:  "Refreshing or leaving ends this session and forfeits the reward.",
		RaisedAt: at,
	}
}

// promptQueue holds pending consent prompts, first-in-first-out, deduplicated
// by kind. The head is the single active prompt the client renders; queueing
// instead of overwriting means two detectors firing in the same sample no
// longer drop a prompt.
type promptQueue struct {
	items []*models.ConsentPrompt
}

// push appends a prompt unless one of the same kind is already queued.
// Reports whether the prompt became the active head.
func (q *promptQueue) push(p *models.ConsentPrompt) bool {
	for _, it := range q.items {
		if it.Kind == p.Kind {
			return false
		}
	}
	q.items = append(q.items, p)
	return len(q.items) == 1
}

// active returns the head prompt, or nil.
func (q *promptQueue) active() *models.ConsentPrompt {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// pop removes the head and returns the new active prompt, or nil.
func (q *promptQueue) pop() *models.ConsentPrompt {
	if len(q.items) == 0 {
		return nil
	}
	q.items = q.items[1:]
	return q.active()
}

// clear drops all pending prompts (session reset / teardown).
func (q *promptQueue) clear() {
	q.items = nil
}
