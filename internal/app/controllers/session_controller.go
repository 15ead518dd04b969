package controllers

import (
	"net/http"
	"strings"

	"github.com/faeln1/go-whatsapp-council/internal/platform/whatsapp"
)

// SessionController exposes the bot's WhatsApp session: status, the latest
// pairing QR and phone-number pairing.
type SessionController struct {
	manager *whatsapp.Manager
	name    string
}

func NewSessionController(m *whatsapp.Manager, sessionName string) *SessionController {
	return &SessionController{manager: m, name: sessionName}
}

type pairRequest struct {
	Phone string `json:"phone"`
}

func (c *SessionController) Status(w http.ResponseWriter, r *http.Request) {
	st, err := c.manager.Status(c.name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (c *SessionController) QR(w http.ResponseWriter, r *http.Request) {
	code, ok := c.manager.GetLastQR(c.name)
	if !ok {
		writeError(w, http.StatusNotFound, whatsapp.ErrNotFound)
		return
	}
	url, err := whatsapp.QRDataURL(code)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"code": code, "base64": url})
}

func (c *SessionController) Pair(w http.ResponseWriter, r *http.Request) {
	var in pairRequest
	if err := decodeJSON(r, &in); err != nil {
		writeDomainError(w, err)
		return
	}
	phone := strings.TrimPrefix(strings.TrimSpace(in.Phone), "+")
	if phone == "" {
		writeError(w, http.StatusBadRequest, ErrInvalidParam)
		return
	}
	code, err := c.manager.GeneratePairingCode(r.Context(), c.name, phone)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"pairingCode": code})
}
