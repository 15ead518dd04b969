package whatsapp

import (
	"context"
	"fmt"

	"github.com/faeln1/go-whatsapp-council/internal/domain/decision"
	domainerrors "github.com/faeln1/go-whatsapp-council/internal/domain/errors"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Directory answers capability questions from live group membership:
// members group participants hold "member", its admins hold "admin" and
// winners group participants hold "monthly_winner". Effects add or remove
// participants from those groups.
type Directory struct {
	sessions *Manager
	session  string
	registry *Registry
	log      waLog.Logger
}

func NewDirectory(sessions *Manager, session string, registry *Registry, log waLog.Logger) *Directory {
	if log == nil {
		log = waLog.Noop
	}
	return &Directory{sessions: sessions, session: session, registry: registry, log: log}
}

func (d *Directory) community(communityID string) (Community, *whatsmeow.Client, error) {
	c, err := d.registry.Get(communityID)
	if err != nil {
		return c, nil, err
	}
	client, err := d.sessions.Client(d.session)
	if err != nil {
		return c, nil, err
	}
	return c, client, nil
}

// ResolveParticipant returns the phone-number JID string of a participant,
// translating hidden-user (LID) JIDs through the device store.
func (d *Directory) ResolveParticipant(ctx context.Context, jid types.JID) string {
	jid = jid.ToNonAD()
	if jid.Server != types.HiddenUserServer {
		return jid.String()
	}
	client, err := d.sessions.Client(d.session)
	if err != nil {
		return jid.String()
	}
	if pn, err := client.Store.LIDs.GetPNForLID(ctx, jid); err == nil && !pn.IsEmpty() {
		return pn.ToNonAD().String()
	}
	return jid.String()
}

func (d *Directory) self(client *whatsmeow.Client) string {
	if client.Store == nil || client.Store.ID == nil {
		return ""
	}
	return client.Store.ID.ToNonAD().String()
}

// holders lists the participants of group, optionally admins only, leaving
// out the bot itself.
func (d *Directory) holders(ctx context.Context, client *whatsmeow.Client, group types.JID, adminsOnly bool) ([]string, error) {
	if group.IsEmpty() {
		return nil, nil
	}
	info, err := client.GetGroupInfo(group)
	if err != nil {
		return nil, classify(err)
	}
	self := d.self(client)
	out := make([]string, 0, len(info.Participants))
	for _, p := range info.Participants {
		if adminsOnly && !p.IsAdmin && !p.IsSuperAdmin {
			continue
		}
		id := d.ResolveParticipant(ctx, p.JID)
		if id == self {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (d *Directory) EligibleVoters(ctx context.Context, communityID string, capability decision.Capability) ([]string, error) {
	c, client, err := d.community(communityID)
	if err != nil {
		return nil, err
	}
	var ids []string
	switch capability {
	case decision.CapabilityMember:
		ids, err = d.holders(ctx, client, c.Members, false)
	case decision.CapabilityAdmin:
		ids, err = d.holders(ctx, client, c.Members, true)
	case decision.CapabilityMonthlyWinner:
		ids, err = d.holders(ctx, client, c.Winners, false)
	default:
		return nil, fmt.Errorf("%w: unknown capability %q", domainerrors.ErrInvalidInput, capability)
	}
	if err != nil {
		return nil, err
	}
	out := ids[:0]
	for _, id := range ids {
		if !c.Automated[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (d *Directory) HasCapability(ctx context.Context, communityID, participantID string, capability decision.Capability) (bool, error) {
	jid, err := ParticipantJID(participantID)
	if err != nil {
		return false, err
	}
	holders, err := d.EligibleVoters(ctx, communityID, capability)
	if err != nil {
		return false, err
	}
	want := jid.String()
	for _, h := range holders {
		if h == want {
			return true, nil
		}
	}
	return false, nil
}

func (d *Directory) IsAutomated(_ context.Context, communityID, participantID string) (bool, error) {
	c, client, err := d.community(communityID)
	if err != nil {
		return false, err
	}
	jid, err := ParticipantJID(participantID)
	if err != nil {
		return false, err
	}
	id := jid.String()
	return c.Automated[id] || id == d.self(client), nil
}

func (d *Directory) ApplyEffect(_ context.Context, communityID string, effect decision.Effect, participantID string) error {
	c, client, err := d.community(communityID)
	if err != nil {
		return err
	}
	jid, err := ParticipantJID(participantID)
	if err != nil {
		return err
	}

	var (
		group  types.JID
		change whatsmeow.ParticipantChange
	)
	switch effect {
	case decision.EffectGrantMember:
		group, change = c.Members, whatsmeow.ParticipantChangeAdd
	case decision.EffectRemoveParticipant:
		group, change = c.Members, whatsmeow.ParticipantChangeRemove
	case decision.EffectGrantWinner:
		group, change = c.Winners, whatsmeow.ParticipantChangeAdd
	case decision.EffectRevokeWinner:
		group, change = c.Winners, whatsmeow.ParticipantChangeRemove
	default:
		return fmt.Errorf("%w: unknown effect %q", domainerrors.ErrInvalidInput, effect)
	}
	if group.IsEmpty() {
		return fmt.Errorf("%w: no group configured for %s in %s", domainerrors.ErrNotFound, effect, communityID)
	}

	results, err := client.UpdateGroupParticipants(group, []types.JID{jid}, change)
	if err != nil {
		return classify(err)
	}
	for _, r := range results {
		code := r.Error
		// 409: already in the group on add, already gone on remove.
		if code == 409 {
			code = 0
		}
		if err := participantError(code, jid.String()); err != nil {
			return err
		}
	}
	d.log.Infof("%s applied to %s in %s", effect, jid, communityID)
	return nil
}
