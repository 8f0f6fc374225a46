package scheduler

import (
	"sync"
	"time"

	"github.com/visiona/scenewatch/internal/model"
)

// questionRegistry is the small mutex-protected at-most-one-active-question
// module described in spec §4.D/§9: the atomic at-most-one binding is a
// contract of the registry itself, not of any particular call site.
type questionRegistry struct {
	mu       sync.Mutex
	current  *model.UserQuestion
	expiry   time.Duration
}

func newQuestionRegistry(expiry time.Duration) *questionRegistry {
	return &questionRegistry{expiry: expiry}
}

// Set replaces the active question. A newly arriving question never
// preempts an inference already dispatched — it simply becomes the next
// thing Take can return.
func (r *questionRegistry) Set(text string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = &model.UserQuestion{Text: text, CreatedAt: now}
}

// Current returns the active question text, or "" if none, honoring
// expiry.
func (r *questionRegistry) Current(now time.Time) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireLocked(now)
	if r.current == nil {
		return ""
	}
	return r.current.Text
}

// Clear removes the active question unconditionally.
func (r *questionRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = nil
}

// Take atomically consumes and returns the active question, or ("", false)
// if none is active or it has expired. At most one caller ever observes a
// given question via Take.
func (r *questionRegistry) Take(now time.Time) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireLocked(now)
	if r.current == nil {
		return "", false
	}
	text := r.current.Text
	r.current = nil
	return text, true
}

func (r *questionRegistry) expireLocked(now time.Time) {
	if r.current != nil && r.expiry > 0 && now.Sub(r.current.CreatedAt) > r.expiry {
		r.current = nil
	}
}
