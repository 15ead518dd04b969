package controllers

import (
	"net/http"
	"time"

	"github.com/faeln1/go-whatsapp-council/internal/app/services"
)

type SchedulerController struct {
	scheduler *services.Scheduler
	now       func() time.Time
}

func NewSchedulerController(s *services.Scheduler) *SchedulerController {
	return &SchedulerController{scheduler: s, now: time.Now}
}

type tickRequest struct {
	Now *time.Time `json:"now,omitempty"`
}

// Tick runs one scheduler poll, optionally at an explicit instant.
func (c *SchedulerController) Tick(w http.ResponseWriter, r *http.Request) {
	var in tickRequest
	// An empty body ticks at the current instant.
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &in); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	now := c.now()
	if in.Now != nil {
		now = *in.Now
	}
	runs, err := c.scheduler.Tick(r.Context(), now)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if runs == nil {
		runs = []services.CycleRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"now": now.UTC(), "runs": runs})
}

func (c *SchedulerController) Checkpoints(w http.ResponseWriter, r *http.Request, communityID string) {
	items, err := c.scheduler.Checkpoints(r.Context(), communityID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}
