package crawler

import (
	"sync"
	"time"

	"activity_fetcher/internal/domain"
)

// StatusHolder owns the orchestrator's run status and guards the single
// "running" flag. All transitions go through it; there is no other shared
// mutable run state.
type StatusHolder struct {
	mu  sync.Mutex
	cur domain.RunStatus
}

func NewStatusHolder() *StatusHolder {
	return &StatusHolder{cur: domain.RunStatus{State: domain.RunIdle}}
}

// TryStart transitions to running unless a run is already in progress.
// Reports whether the transition happened.
func (h *StatusHolder) TryStart(targets []string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cur.State == domain.RunRunning {
		return false
	}

	h.cur = domain.RunStatus{
		State:     domain.RunRunning,
		Targets:   append([]string(nil), targets...),
		StartedAt: time.Now(),
	}
	return true
}

// Finish transitions running to done, or to error when err is non-nil.
func (h *StatusHolder) Finish(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cur.FinishedAt = time.Now()
	if err != nil {
		h.cur.State = domain.RunError
		h.cur.Error = err.Error()
		return
	}
	h.cur.State = domain.RunDone
	h.cur.Error = ""
}

// Current returns a copy of the status.
func (h *StatusHolder) Current() domain.RunStatus {
	h.mu.Lock()
	defer h.mu.Unlock()

	cur := h.cur
	cur.Targets = append([]string(nil), h.cur.Targets...)
	return cur
}
