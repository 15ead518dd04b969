package controllers

import (
	"net/http"

	"github.com/faeln1/go-whatsapp-council/internal/app/services"
	"github.com/faeln1/go-whatsapp-council/internal/domain/circle"
)

type CircleController struct {
	service *services.CircleService
}

func NewCircleController(s *services.CircleService) *CircleController {
	return &CircleController{service: s}
}

type participantRequest struct {
	ParticipantID string `json:"participantId"`
}

func (c *CircleController) Create(w http.ResponseWriter, r *http.Request, communityID string) {
	var in circle.CreateInput
	if err := decodeJSON(r, &in); err != nil {
		writeDomainError(w, err)
		return
	}
	g, err := c.service.Create(r.Context(), communityID, in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (c *CircleController) List(w http.ResponseWriter, r *http.Request, communityID string) {
	joinable := r.URL.Query().Get("joinable") == "true"
	items, err := c.service.List(r.Context(), communityID, joinable)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (c *CircleController) Get(w http.ResponseWriter, r *http.Request, communityID, circleID string) {
	g, err := c.service.Get(r.Context(), communityID, circleID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (c *CircleController) Join(w http.ResponseWriter, r *http.Request, communityID, circleID string) {
	var in participantRequest
	if err := decodeJSON(r, &in); err != nil {
		writeDomainError(w, err)
		return
	}
	g, err := c.service.Join(r.Context(), communityID, circleID, in.ParticipantID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (c *CircleController) Leave(w http.ResponseWriter, r *http.Request, communityID string) {
	var in participantRequest
	if err := decodeJSON(r, &in); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := c.service.Leave(r.Context(), communityID, in.ParticipantID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
