package controllers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/faeln1/go-whatsapp-council/internal/app/services"
)

type LeaderboardController struct {
	board *services.Leaderboard
	now   func() time.Time
}

func NewLeaderboardController(board *services.Leaderboard) *LeaderboardController {
	return &LeaderboardController{board: board, now: time.Now}
}

func (c *LeaderboardController) Leaderboard(w http.ResponseWriter, r *http.Request, communityID string) {
	n, err := intQuery(r, "n", 10)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	snap, err := c.board.Snapshot(r.Context(), communityID, n)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (c *LeaderboardController) Calendar(w http.ResponseWriter, r *http.Request, communityID string) {
	now := c.now().UTC()
	year, err := intQuery(r, "year", now.Year())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	month, err := intQuery(r, "month", int(now.Month()))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if month < 1 || month > 12 {
		writeDomainError(w, fmt.Errorf("%w: month", ErrInvalidParam))
		return
	}
	cal, err := c.board.Calendar(r.Context(), communityID, year, time.Month(month))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cal)
}
