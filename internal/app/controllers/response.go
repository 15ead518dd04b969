package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	domainerrors "github.com/faeln1/go-whatsapp-council/internal/domain/errors"
	"github.com/faeln1/go-whatsapp-council/internal/platform/whatsapp"
)

var ErrInvalidParam = errors.New("invalid param")

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusFor maps the domain error taxonomy onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidParam), errors.Is(err, domainerrors.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domainerrors.ErrNotFound), errors.Is(err, whatsapp.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domainerrors.ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, whatsapp.ErrClientUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: body: %v", ErrInvalidParam, err)
	}
	return nil
}
