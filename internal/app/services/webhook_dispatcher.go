package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/faeln1/go-whatsapp-council/internal/domain/community"
	"github.com/google/uuid"
	waLog "go.mau.fi/whatsmeow/util/log"
)

const (
	EventDecisionFinalized = "decision.finalized"
	EventLeaderboard       = "leaderboard.snapshot"
	EventCalendar          = "calendar.snapshot"
)

// WebhookNotifier posts finalized decisions and snapshots to one URL.
// Deliveries are retried on network errors and 5xx responses.
type WebhookNotifier struct {
	client     *http.Client
	url        string
	token      string
	events     []string
	maxElapsed time.Duration
	log        waLog.Logger
}

type WebhookConfig struct {
	URL   string
	Token string
	// Events filters deliveries by event name; empty or "ALL" sends everything.
	Events     []string
	MaxElapsed time.Duration
}

func NewWebhookNotifier(cfg WebhookConfig, client *http.Client, log waLog.Logger) *WebhookNotifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = 30 * time.Second
	}
	return &WebhookNotifier{
		client:     client,
		url:        strings.TrimSpace(cfg.URL),
		token:      strings.TrimSpace(cfg.Token),
		events:     cfg.Events,
		maxElapsed: cfg.MaxElapsed,
		log:        log,
	}
}

// Enabled reports whether a target URL is configured.
func (d *WebhookNotifier) Enabled() bool {
	return d != nil && d.url != ""
}

func (d *WebhookNotifier) DecisionFinalized(ctx context.Context, evt community.DecisionEvent) error {
	_, err := d.Dispatch(ctx, evt.CommunityID, EventDecisionFinalized, evt)
	return err
}

func (d *WebhookNotifier) PublishLeaderboard(ctx context.Context, board community.Leaderboard) error {
	_, err := d.Dispatch(ctx, board.CommunityID, EventLeaderboard, board)
	return err
}

func (d *WebhookNotifier) PublishCalendar(ctx context.Context, cal community.Calendar) error {
	_, err := d.Dispatch(ctx, cal.CommunityID, EventCalendar, cal)
	return err
}

// Dispatch delivers one event and reports whether it was sent.
func (d *WebhookNotifier) Dispatch(ctx context.Context, communityID, event string, payload any) (bool, error) {
	if !d.Enabled() {
		return false, nil
	}
	if len(d.events) > 0 && !containsEvent(d.events, event) && !containsEvent(d.events, "ALL") {
		if d.log != nil {
			d.log.Debugf("webhook skipping community=%s event=%s: filtered by events", communityID, event)
		}
		return false, nil
	}
	deliveryID := uuid.NewString()
	body := map[string]any{
		"event":      event,
		"community":  communityID,
		"deliveryId": deliveryID,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"data":       payload,
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return false, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = d.maxElapsed
	err = backoff.Retry(func() error {
		return d.post(ctx, buf, communityID, event)
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		if d.log != nil {
			d.log.Warnf("webhook dispatch failed community=%s event=%s delivery=%s: %v", communityID, event, deliveryID, err)
		}
		return false, err
	}
	return true, nil
}

func (d *WebhookNotifier) post(ctx context.Context, buf []byte, communityID, event string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(buf))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}
	if d.log != nil {
		d.log.Debugf("webhook dispatch start community=%s event=%s url=%s", communityID, event, d.url)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return backoff.Permanent(fmt.Errorf("webhook returned status %d", resp.StatusCode))
	}
	if d.log != nil {
		d.log.Debugf("webhook dispatch success community=%s event=%s status=%d", communityID, event, resp.StatusCode)
	}
	return nil
}

func containsEvent(list []string, target string) bool {
	canonicalTarget := canonicalEventName(target)
	if canonicalTarget == "" {
		return false
	}
	for _, item := range list {
		if canonicalEventName(item) == canonicalTarget {
			return true
		}
	}
	return false
}

func canonicalEventName(value string) string {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return ""
	}
	lower := strings.ToLower(cleaned)
	lower = strings.ReplaceAll(lower, "_", ".")
	lower = strings.ReplaceAll(lower, " ", "")
	return lower
}
