package whatsapp

import (
	"context"
	"fmt"
	"strings"

	"github.com/faeln1/go-whatsapp-council/internal/domain/community"
	"github.com/faeln1/go-whatsapp-council/internal/domain/decision"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// Announcer posts to each community's tribunal chat. Yes/no decisions get a
// single message voted on with ✅ / ❌ reactions; ballots get one message
// per candidate and any reaction on it is a vote for that candidate.
type Announcer struct {
	sessions *Manager
	session  string
	registry *Registry
	log      waLog.Logger
}

func NewAnnouncer(sessions *Manager, session string, registry *Registry, log waLog.Logger) *Announcer {
	if log == nil {
		log = waLog.Noop
	}
	return &Announcer{sessions: sessions, session: session, registry: registry, log: log}
}

func (a *Announcer) send(ctx context.Context, chat types.JID, text string) (types.MessageID, error) {
	client, err := a.sessions.Client(a.session)
	if err != nil {
		return "", err
	}
	resp, err := client.SendMessage(ctx, chat, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		return "", classify(err)
	}
	return resp.ID, nil
}

func (a *Announcer) Announce(ctx context.Context, communityID, text string) error {
	c, err := a.registry.Get(communityID)
	if err != nil {
		return err
	}
	_, err = a.send(ctx, c.Chat(), text)
	return err
}

func (a *Announcer) AnnounceDecision(ctx context.Context, opened community.DecisionOpened) ([]community.VoteAnchor, error) {
	c, err := a.registry.Get(opened.CommunityID)
	if err != nil {
		return nil, err
	}
	chat := c.Chat()
	header := "*" + opened.Title + "*"
	if opened.Body != "" {
		header += "\n" + opened.Body
	}

	if opened.Kind.Binary() {
		id, err := a.send(ctx, chat, header+"\n\nReact "+ReactionYes+" to approve or "+ReactionNo+" to reject.")
		if err != nil {
			return nil, err
		}
		return []community.VoteAnchor{{MessageID: string(id), CommunityID: opened.CommunityID, DecisionKey: opened.DecisionKey}}, nil
	}

	if _, err := a.send(ctx, chat, header); err != nil {
		return nil, err
	}
	anchors := make([]community.VoteAnchor, 0, len(opened.Options))
	for i, opt := range opened.Options {
		text := fmt.Sprintf("%d. %s\nReact to this message to vote.", i+1, strings.TrimSpace(opt.Label))
		id, err := a.send(ctx, chat, text)
		if err != nil {
			// Keep what was posted so far votable.
			a.log.Warnf("failed to post option %d of %s: %v", i+1, opened.DecisionKey, err)
			return anchors, err
		}
		anchors = append(anchors, community.VoteAnchor{
			MessageID:   string(id),
			CommunityID: opened.CommunityID,
			DecisionKey: opened.DecisionKey,
			Choice:      opt.Choice,
		})
	}
	return anchors, nil
}

const (
	ReactionYes = "✅"
	ReactionNo  = "❌"
)

// ReactionChoice turns a reaction on an anchored message into a choice. An
// empty reaction (removal) yields an empty choice, meaning retract. ok is
// false for reactions that carry no vote.
func ReactionChoice(anchor community.VoteAnchor, reaction string) (decision.Choice, bool) {
	reaction = strings.TrimSpace(reaction)
	if reaction == "" {
		return "", true
	}
	if anchor.Choice != "" {
		return anchor.Choice, true
	}
	switch strings.TrimSuffix(reaction, "\ufe0f") {
	case ReactionYes, "✔", "👍":
		return decision.ChoiceYes, true
	case ReactionNo, "✖", "👎":
		return decision.ChoiceNo, true
	}
	return "", false
}
