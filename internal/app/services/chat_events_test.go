package services

import (
	"context"
	"testing"

	"github.com/faeln1/go-whatsapp-council/internal/domain/decision"
	"github.com/faeln1/go-whatsapp-council/internal/platform/whatsapp"
	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

const (
	chatCommunity = "100@g.us"
	chatTribunal  = "200@g.us"
)

func reactionEvent(chat, sender, messageID, text string) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:    types.NewJID(chat[:len(chat)-len("@g.us")], types.GroupServer),
				Sender:  types.NewJID(sender, types.DefaultUserServer),
				IsGroup: true,
			},
		},
		Message: &waE2E.Message{
			ReactionMessage: &waE2E.ReactionMessage{
				Key:  &waCommon.MessageKey{ID: proto.String(messageID)},
				Text: proto.String(text),
			},
		},
	}
}

func newChatHarness(t *testing.T) (*harness, *ChatEvents) {
	t.Helper()
	h := newHarness("m1@s.whatsapp.net", "m2@s.whatsapp.net", "m3@s.whatsapp.net")
	c, err := whatsapp.NewCommunity(chatCommunity, "Test", chatTribunal, "", nil)
	if err != nil {
		t.Fatalf("community: %v", err)
	}
	registry, err := whatsapp.NewRegistry(c)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return h, NewChatEvents(h.governance, registry, nil, Clock(h.clock.Now), waLog.Noop)
}

func TestReactionsBecomeVotes(t *testing.T) {
	ctx := context.Background()
	h, chat := newChatHarness(t)
	rec, err := h.governance.Recommend(ctx, chatCommunity, "m1@s.whatsapp.net", "cand@s.whatsapp.net")
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	key := decision.NewKey(chatCommunity, decision.KindRecommendation, rec.ID)

	chat.HandleMessage(ctx, "council", reactionEvent(chatTribunal, "m1", "msg-1", "👍"))
	tally, _ := h.engine.Tally(ctx, key)
	if tally.Votes["m1@s.whatsapp.net"] != decision.ChoiceYes {
		t.Fatalf("expected yes from m1, got %v", tally.Votes)
	}

	chat.HandleMessage(ctx, "council", reactionEvent(chatTribunal, "m1", "msg-1", ""))
	tally, _ = h.engine.Tally(ctx, key)
	if _, ok := tally.Votes["m1@s.whatsapp.net"]; ok {
		t.Fatalf("removed reaction should retract, got %v", tally.Votes)
	}

	// Unknown chat and unknown message are ignored.
	chat.HandleMessage(ctx, "council", reactionEvent("999@g.us", "m1", "msg-1", "👍"))
	chat.HandleMessage(ctx, "council", reactionEvent(chatTribunal, "m1", "nope", "👍"))
	if tally, _ = h.engine.Tally(ctx, key); len(tally.Votes) != 0 {
		t.Fatalf("stray reactions must not vote, got %v", tally.Votes)
	}

	chat.HandleMessage(ctx, "council", reactionEvent(chatTribunal, "m2", "msg-1", "✅"))
	chat.HandleMessage(ctx, "council", reactionEvent(chatTribunal, "m3", "msg-1", "✅"))
	if effects := h.dir.applied(); len(effects) != 1 || effects[0].participant != "cand@s.whatsapp.net" {
		t.Fatalf("expected candidate admitted, got %+v", effects)
	}
}

func TestMembersGroupLeaveCascades(t *testing.T) {
	ctx := context.Background()
	h, chat := newChatHarness(t)
	if _, err := h.governance.Recommend(ctx, chatCommunity, "m1@s.whatsapp.net", "cand@s.whatsapp.net"); err != nil {
		t.Fatalf("recommend: %v", err)
	}

	// Leaving the tribunal chat is not leaving the community.
	chat.HandleGroupInfo(ctx, "council", &events.GroupInfo{
		JID:   types.NewJID("200", types.GroupServer),
		Leave: []types.JID{types.NewJID("cand", types.DefaultUserServer)},
	})
	if recs, _ := h.governance.ListRecommendations(ctx, chatCommunity); len(recs) != 1 {
		t.Fatalf("recommendation should survive, got %d", len(recs))
	}

	chat.HandleGroupInfo(ctx, "council", &events.GroupInfo{
		JID:   types.NewJID("100", types.GroupServer),
		Leave: []types.JID{types.NewJID("cand", types.DefaultUserServer)},
	})
	if recs, _ := h.governance.ListRecommendations(ctx, chatCommunity); len(recs) != 0 {
		t.Fatalf("recommendation should be withdrawn, got %+v", recs)
	}
}
