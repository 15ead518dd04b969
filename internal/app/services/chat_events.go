package services

import (
	"context"
	"time"

	"github.com/faeln1/go-whatsapp-council/internal/domain/community"
	domainerrors "github.com/faeln1/go-whatsapp-council/internal/domain/errors"
	"github.com/faeln1/go-whatsapp-council/internal/platform/whatsapp"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// ParticipantResolver turns a WhatsApp JID into the participant id used by
// the workflow core.
type ParticipantResolver interface {
	ResolveParticipant(ctx context.Context, jid types.JID) string
}

// ChatEvents translates WhatsApp events into governance inbound events:
// reactions on announced messages become vote signals and participants
// leaving the members group trigger the leave cascade.
type ChatEvents struct {
	governance *GovernanceService
	registry   *whatsapp.Registry
	resolver   ParticipantResolver
	clock      Clock
	log        waLog.Logger
}

func NewChatEvents(governance *GovernanceService, registry *whatsapp.Registry, resolver ParticipantResolver, clock Clock, log waLog.Logger) *ChatEvents {
	if log == nil {
		log = waLog.Noop
	}
	return &ChatEvents{governance: governance, registry: registry, resolver: resolver, clock: clock, log: log}
}

func (h *ChatEvents) participant(ctx context.Context, jid, alt types.JID) string {
	if jid.Server == types.HiddenUserServer && !alt.IsEmpty() {
		jid = alt
	}
	if h.resolver != nil {
		return h.resolver.ResolveParticipant(ctx, jid)
	}
	return jid.ToNonAD().String()
}

func (h *ChatEvents) HandleMessage(ctx context.Context, sessionName string, evt *events.Message) {
	if h == nil || evt == nil || evt.Message == nil || h.governance == nil {
		return
	}
	reaction := evt.Message.GetReactionMessage()
	if reaction == nil || evt.Info.IsFromMe {
		return
	}
	c, ok := h.registry.ByGroup(evt.Info.Chat)
	if !ok {
		return
	}
	anchor, ok := h.governance.ResolveAnchor(ctx, c.ID, reaction.GetKey().GetID())
	if !ok {
		return
	}
	choice, ok := whatsapp.ReactionChoice(anchor, reaction.GetText())
	if !ok {
		h.log.Debugf("ignoring reaction %q on %s", reaction.GetText(), anchor.DecisionKey)
		return
	}

	ts := evt.Info.Timestamp
	if ts.IsZero() {
		ts = h.clock.now()
	}
	sig := community.VoteSignal{
		CommunityID: c.ID,
		DecisionKey: anchor.DecisionKey,
		VoterID:     h.participant(ctx, evt.Info.Sender, evt.Info.SenderAlt),
		Choice:      choice,
		ReceivedAt:  ts.UTC(),
	}
	if err := h.governance.OnVoteSignal(ctx, sig); err != nil {
		if domainerrors.IsClientError(err) {
			h.log.Debugf("session %s: vote from %s on %s rejected: %v", sessionName, sig.VoterID, sig.DecisionKey, err)
			return
		}
		h.log.Errorf("session %s: vote from %s on %s failed: %v", sessionName, sig.VoterID, sig.DecisionKey, err)
	}
}

func (h *ChatEvents) HandleGroupInfo(ctx context.Context, sessionName string, evt *events.GroupInfo) {
	if h == nil || evt == nil || len(evt.Leave) == 0 || h.governance == nil {
		return
	}
	c, ok := h.registry.ByGroup(evt.JID)
	if !ok || c.Members != evt.JID.ToNonAD() {
		return
	}
	for _, jid := range evt.Leave {
		id := h.participant(ctx, jid, types.EmptyJID)
		start := time.Now()
		if err := h.governance.OnParticipantLeft(ctx, c.ID, id); err != nil {
			h.log.Warnf("session %s: leave cascade for %s in %s: %v", sessionName, id, c.ID, err)
			continue
		}
		h.log.Infof("participant %s left %s; cascade done in %s", id, c.ID, time.Since(start))
	}
}
