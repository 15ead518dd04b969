package whatsapp

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Session is one logged-in bot account.
type Session struct {
	ID        string
	Name      string
	CreatedAt time.Time
	Client    *whatsmeow.Client
	Device    *store.Device
	QRChan    <-chan whatsmeow.QRChannelItem
}

// SessionStatus is the public view of a session.
type SessionStatus struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	Connected bool      `json:"connected"`
	LoggedIn  bool      `json:"loggedIn"`
	JID       string    `json:"jid,omitempty"`
}

type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session // key: name
	log      waLog.Logger
	lastQR   map[string]string // name -> latest pairing code
}

func NewManager(log waLog.Logger) *Manager {
	if log == nil {
		log = waLog.Noop
	}
	return &Manager{sessions: make(map[string]*Session), log: log, lastQR: make(map[string]string)}
}

func (m *Manager) Create(name string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[name]; exists {
		return nil, ErrAlreadyExists
	}
	sess := &Session{ID: uuid.NewString(), Name: name, CreatedAt: time.Now()}
	m.sessions[name] = sess
	return sess, nil
}

// AttachClient binds an already built whatsmeow client to the session.
func (m *Manager) AttachClient(name string, dev *store.Device, client *whatsmeow.Client, qr <-chan whatsmeow.QRChannelItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[name]
	if !ok {
		return ErrNotFound
	}
	sess.Device = dev
	sess.Client = client
	sess.QRChan = qr
	return nil
}

// StartEventLoop logs connection lifecycle events.
func (m *Manager) StartEventLoop(sess *Session) {
	if sess.Client == nil {
		return
	}
	sess.Client.AddEventHandler(func(evt any) {
		switch e := evt.(type) {
		case *events.Connected:
			m.log.Infof("session %s connected", sess.Name)
		case *events.Disconnected:
			m.log.Warnf("session %s disconnected", sess.Name)
		case *events.PairSuccess:
			m.log.Infof("session %s paired, JID: %s, platform: %s", sess.Name, e.ID.String(), e.Platform)
			m.clearQR(sess.Name)
		case *events.LoggedOut:
			m.log.Warnf("session %s logged out, reason: %s", sess.Name, e.Reason.String())
		}
	})
}

func (m *Manager) Get(name string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[name]
	return s, ok
}

// Client returns the session's client once it is connected and logged in.
func (m *Manager) Client(name string) (*whatsmeow.Client, error) {
	sess, ok := m.Get(name)
	if !ok {
		return nil, ErrNotFound
	}
	if sess.Client == nil || !sess.Client.IsConnected() || !sess.Client.IsLoggedIn() {
		return nil, ErrClientUnavailable
	}
	return sess.Client, nil
}

func (m *Manager) Status(name string) (SessionStatus, error) {
	sess, ok := m.Get(name)
	if !ok {
		return SessionStatus{}, ErrNotFound
	}
	st := SessionStatus{Name: sess.Name, CreatedAt: sess.CreatedAt}
	if c := sess.Client; c != nil {
		st.Connected = c.IsConnected()
		st.LoggedIn = c.IsLoggedIn()
		if c.Store != nil && c.Store.ID != nil {
			st.JID = c.Store.ID.ToNonAD().String()
		}
	}
	return st, nil
}

// GeneratePairingCode asks whatsmeow for a phone-number pairing code. The
// session must already be connected.
func (m *Manager) GeneratePairingCode(ctx context.Context, name string, phone string) (string, error) {
	sess, ok := m.Get(name)
	if !ok {
		return "", ErrNotFound
	}
	if sess.Client == nil {
		return "", ErrClientUnavailable
	}
	return sess.Client.PairPhone(ctx, phone, false, whatsmeow.PairClientChrome, "Chrome (Linux)")
}

func (m *Manager) SetLastQR(name, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[name]; !ok {
		return ErrNotFound
	}
	m.lastQR[name] = code
	return nil
}

func (m *Manager) GetLastQR(name string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.lastQR[name]
	return v, ok
}

func (m *Manager) clearQR(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lastQR, name)
}

// Close disconnects every session.
func (m *Manager) Close() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.Client != nil {
			s.Client.Disconnect()
		}
	}
}
