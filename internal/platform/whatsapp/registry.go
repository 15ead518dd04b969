package whatsapp

import (
	"fmt"
	"strings"

	domainerrors "github.com/faeln1/go-whatsapp-council/internal/domain/errors"
	"go.mau.fi/whatsmeow/types"
)

// Community maps a governed community onto its WhatsApp groups. The members
// group JID is the community id used by the workflow core.
type Community struct {
	ID        string
	Name      string
	Members   types.JID
	Tribunal  types.JID
	Winners   types.JID
	Automated map[string]bool
}

// Chat is where votes and results are announced.
func (c Community) Chat() types.JID {
	if !c.Tribunal.IsEmpty() {
		return c.Tribunal
	}
	return c.Members
}

// NewCommunity validates the configured JIDs. tribunal and winners are optional.
func NewCommunity(members, name, tribunal, winners string, automated []string) (Community, error) {
	c := Community{Name: strings.TrimSpace(name), Automated: map[string]bool{}}
	jid, err := parseGroupJID(members)
	if err != nil {
		return c, fmt.Errorf("members group: %w", err)
	}
	c.Members = jid
	c.ID = jid.String()
	if strings.TrimSpace(tribunal) != "" {
		if c.Tribunal, err = parseGroupJID(tribunal); err != nil {
			return c, fmt.Errorf("tribunal group: %w", err)
		}
	}
	if strings.TrimSpace(winners) != "" {
		if c.Winners, err = parseGroupJID(winners); err != nil {
			return c, fmt.Errorf("winners group: %w", err)
		}
	}
	for _, raw := range automated {
		jid, err := ParticipantJID(raw)
		if err != nil {
			return c, fmt.Errorf("automated participant: %w", err)
		}
		c.Automated[jid.String()] = true
	}
	return c, nil
}

func parseGroupJID(raw string) (types.JID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return types.EmptyJID, fmt.Errorf("%w: empty group jid", domainerrors.ErrInvalidInput)
	}
	if !strings.Contains(raw, "@") {
		raw += "@" + types.GroupServer
	}
	jid, err := types.ParseJID(raw)
	if err != nil || jid.Server != types.GroupServer {
		return types.EmptyJID, fmt.Errorf("%w: invalid group jid %q", domainerrors.ErrInvalidInput, raw)
	}
	return jid, nil
}

// ParticipantJID accepts a bare phone number or a user JID.
func ParticipantJID(raw string) (types.JID, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "+")
	if raw == "" {
		return types.EmptyJID, fmt.Errorf("%w: empty participant", domainerrors.ErrInvalidInput)
	}
	if !strings.Contains(raw, "@") {
		return types.NewJID(raw, types.DefaultUserServer), nil
	}
	jid, err := types.ParseJID(raw)
	if err != nil {
		return types.EmptyJID, fmt.Errorf("%w: invalid participant %q", domainerrors.ErrInvalidInput, raw)
	}
	return jid.ToNonAD(), nil
}

// Registry indexes the configured communities.
type Registry struct {
	byID    map[string]Community
	byGroup map[types.JID]string
	order   []string
}

func NewRegistry(communities ...Community) (*Registry, error) {
	r := &Registry{byID: map[string]Community{}, byGroup: map[types.JID]string{}}
	for _, c := range communities {
		if _, dup := r.byID[c.ID]; dup {
			return nil, fmt.Errorf("%w: community %s configured twice", domainerrors.ErrInvalidInput, c.ID)
		}
		r.byID[c.ID] = c
		r.order = append(r.order, c.ID)
		for _, jid := range []types.JID{c.Members, c.Tribunal, c.Winners} {
			if !jid.IsEmpty() {
				r.byGroup[jid] = c.ID
			}
		}
	}
	return r, nil
}

func (r *Registry) Get(id string) (Community, error) {
	if r == nil {
		return Community{}, ErrUnknownCommunity
	}
	c, ok := r.byID[id]
	if !ok {
		return Community{}, ErrUnknownCommunity
	}
	return c, nil
}

// ByGroup finds the community one of whose groups is jid.
func (r *Registry) ByGroup(jid types.JID) (Community, bool) {
	if r == nil {
		return Community{}, false
	}
	id, ok := r.byGroup[jid.ToNonAD()]
	if !ok {
		return Community{}, false
	}
	return r.byID[id], true
}

// IDs lists community ids in configuration order.
func (r *Registry) IDs() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.order...)
}
