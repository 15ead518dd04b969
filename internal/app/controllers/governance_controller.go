package controllers

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/faeln1/go-whatsapp-council/internal/app/services"
	"github.com/faeln1/go-whatsapp-council/internal/domain/community"
	"github.com/faeln1/go-whatsapp-council/internal/domain/decision"
	"github.com/faeln1/go-whatsapp-council/internal/domain/proposal"
)

type GovernanceController struct {
	service *services.GovernanceService
}

func NewGovernanceController(s *services.GovernanceService) *GovernanceController {
	return &GovernanceController{service: s}
}

type recommendRequest struct {
	RecommenderID string `json:"recommenderId"`
	CandidateID   string `json:"candidateId"`
}

type exclusionRequest struct {
	InitiatorID string `json:"initiatorId"`
	TargetID    string `json:"targetId"`
	Reason      string `json:"reason"`
}

type rateRequest struct {
	RaterID string `json:"raterId"`
	Rating  int    `json:"rating"`
}

type ballotVoteRequest struct {
	VoterID    string `json:"voterId"`
	ProposalID string `json:"proposalId"`
}

type voteSignalRequest struct {
	DecisionKey string          `json:"decisionKey"`
	VoterID     string          `json:"voterId"`
	Choice      decision.Choice `json:"choice,omitempty"`
}

func (c *GovernanceController) Recommend(w http.ResponseWriter, r *http.Request, communityID string) {
	var in recommendRequest
	if err := decodeJSON(r, &in); err != nil {
		writeDomainError(w, err)
		return
	}
	rec, err := c.service.Recommend(r.Context(), communityID, in.RecommenderID, in.CandidateID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (c *GovernanceController) ListRecommendations(w http.ResponseWriter, r *http.Request, communityID string) {
	items, err := c.service.ListRecommendations(r.Context(), communityID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (c *GovernanceController) RequestExclusion(w http.ResponseWriter, r *http.Request, communityID string) {
	var in exclusionRequest
	if err := decodeJSON(r, &in); err != nil {
		writeDomainError(w, err)
		return
	}
	req, err := c.service.RequestExclusion(r.Context(), communityID, in.InitiatorID, in.TargetID, in.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (c *GovernanceController) ListExclusions(w http.ResponseWriter, r *http.Request, communityID string) {
	items, err := c.service.ListExclusions(r.Context(), communityID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (c *GovernanceController) ProposeEvent(w http.ResponseWriter, r *http.Request, communityID string) {
	var in proposal.CreateInput
	if err := decodeJSON(r, &in); err != nil {
		writeDomainError(w, err)
		return
	}
	p, err := c.service.ProposeEvent(r.Context(), communityID, in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (c *GovernanceController) ListProposals(w http.ResponseWriter, r *http.Request, communityID string) {
	status := proposal.Status(strings.TrimSpace(r.URL.Query().Get("status")))
	items, err := c.service.ListProposals(r.Context(), communityID, status)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (c *GovernanceController) GetProposal(w http.ResponseWriter, r *http.Request, communityID, proposalID string) {
	p, err := c.service.GetProposal(r.Context(), communityID, proposalID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (c *GovernanceController) Rate(w http.ResponseWriter, r *http.Request, communityID, proposalID string) {
	var in rateRequest
	if err := decodeJSON(r, &in); err != nil {
		writeDomainError(w, err)
		return
	}
	p, err := c.service.Rate(r.Context(), communityID, proposalID, in.RaterID, in.Rating)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (c *GovernanceController) CurrentBallot(w http.ResponseWriter, r *http.Request, communityID string) {
	b, err := c.service.CurrentBallot(r.Context(), communityID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ballot": b, "counts": b.Counts()})
}

func (c *GovernanceController) CastBallotVote(w http.ResponseWriter, r *http.Request, communityID string) {
	var in ballotVoteRequest
	if err := decodeJSON(r, &in); err != nil {
		writeDomainError(w, err)
		return
	}
	b, err := c.service.CastBallotVote(r.Context(), communityID, in.VoterID, in.ProposalID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (c *GovernanceController) RetractBallotVote(w http.ResponseWriter, r *http.Request, communityID, voterID string) {
	b, err := c.service.RetractBallotVote(r.Context(), communityID, voterID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// Vote accepts a vote signal from an external adapter. An empty choice retracts.
func (c *GovernanceController) Vote(w http.ResponseWriter, r *http.Request, communityID string) {
	var in voteSignalRequest
	if err := decodeJSON(r, &in); err != nil {
		writeDomainError(w, err)
		return
	}
	sig := community.VoteSignal{CommunityID: communityID, DecisionKey: in.DecisionKey, VoterID: in.VoterID, Choice: in.Choice}
	if err := c.service.OnVoteSignal(r.Context(), sig); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (c *GovernanceController) ParticipantLeft(w http.ResponseWriter, r *http.Request, communityID, participantID string) {
	if err := c.service.OnParticipantLeft(r.Context(), communityID, participantID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *GovernanceController) DecisionHistory(w http.ResponseWriter, r *http.Request, communityID string) {
	limit, err := intQuery(r, "limit", 50)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	items, err := c.service.DecisionHistory(r.Context(), communityID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (c *GovernanceController) Decision(w http.ResponseWriter, r *http.Request, communityID, key string) {
	tally, err := c.service.Decision(r.Context(), communityID, key)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tally)
}

func intQuery(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidParam, name)
	}
	return n, nil
}

// DecodePathSegment unescapes one raw path segment, falling back to the raw
// text when it is not valid escaping.
func DecodePathSegment(raw string) string {
	value, err := url.PathUnescape(raw)
	if err != nil {
		log.Printf("failed to decode path segment %s: %v", raw, err)
		return raw
	}
	return value
}
