package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/program-ledger/internal/handler"
)

type providerConfig struct {
	Addr            string        `env:"MOCK_PROVIDER_ADDR" envDefault:":8081"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv          string        `env:"APP_ENV" envDefault:"development"`
	WebhookSecret   string        `env:"WEBHOOK_SECRET,required,notEmpty"`
	WebhookDelay    time.Duration `env:"MOCK_WEBHOOK_DELAY" envDefault:"2s"`
	CallbackTimeout time.Duration `env:"MOCK_CALLBACK_TIMEOUT" envDefault:"5s"`
	CallbackRetries int           `env:"MOCK_CALLBACK_RETRIES" envDefault:"3"`
}

type submission struct {
	Reference     string `json:"reference"`
	TransferKind  string `json:"transfer_kind"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	InstrumentRef string `json:"instrument_ref"`
	CallbackURL   string `json:"callback_url"`
}

type callback struct {
	EventID      string `json:"event_id"`
	TransferID   string `json:"transfer_id"`
	TransferKind string `json:"transfer_kind"`
	Status       string `json:"status"`
	ProviderRef  string `json:"provider_ref,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Timestamp    string `json:"timestamp"`
}

// provider accepts transfers and card charges and confirms them later by
// webhook. Amounts ending in 13 minor units fail; instruments prefixed
// "declined" are refused up front.
type provider struct {
	cfg    providerConfig
	client *http.Client

	mu   sync.Mutex
	seen map[string]string
}

func newProvider(cfg providerConfig, client *http.Client) *provider {
	return &provider{cfg: cfg, client: client, seen: make(map[string]string)}
}

func (p *provider) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /transfers", p.accept("tr"))
	mux.HandleFunc("POST /cards/charges", p.accept("ch"))
	return mux
}

func (p *provider) accept(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var sub submission
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"reason": "malformed_request"})
			return
		}
		if _, err := uuid.Parse(sub.Reference); err != nil || sub.Amount <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"reason": "invalid_request"})
			return
		}
		if strings.HasPrefix(sub.InstrumentRef, "declined") {
			slog.Info("submission declined", "reference", sub.Reference)
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"reason": "instrument_declined"})
			return
		}

		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			key = sub.Reference
		}
		ref, replay := p.reference(prefix, key)
		if !replay && sub.CallbackURL != "" {
			time.AfterFunc(p.cfg.WebhookDelay, func() { p.confirm(sub, ref) })
		}

		slog.Info("submission accepted",
			"reference", sub.Reference,
			"provider_ref", ref,
			"amount", sub.Amount,
			"replay", replay,
		)
		writeJSON(w, http.StatusAccepted, map[string]string{"reference": ref})
	}
}

func (p *provider) reference(prefix, key string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ref, ok := p.seen[key]; ok {
		return ref, true
	}
	ref := fmt.Sprintf("%s_%s", prefix, strings.ReplaceAll(uuid.NewString(), "-", "")[:16])
	p.seen[key] = ref
	return ref, false
}

func outcome(amount int64) (status, reason string) {
	if amount%100 == 13 {
		return "failed", "provider_declined"
	}
	return "settled", ""
}

func (p *provider) confirm(sub submission, ref string) {
	status, reason := outcome(sub.Amount)
	body, err := json.Marshal(callback{
		EventID:      uuid.NewString(),
		TransferID:   sub.Reference,
		TransferKind: sub.TransferKind,
		Status:       status,
		ProviderRef:  ref,
		Reason:       reason,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		slog.Error("failed to marshal callback", "error", err)
		return
	}

	for attempt := 1; attempt <= max(p.cfg.CallbackRetries, 1); attempt++ {
		err = p.send(sub.CallbackURL, body)
		if err == nil {
			slog.Info("webhook delivered", "reference", sub.Reference, "status", status, "attempt", attempt)
			return
		}
		slog.Warn("webhook delivery failed", "reference", sub.Reference, "attempt", attempt, "error", err)
		time.Sleep(time.Duration(attempt) * time.Second)
	}
	slog.Error("webhook delivery abandoned", "reference", sub.Reference)
}

func (p *provider) send(url string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.CallbackTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", handler.Sign(body, p.cfg.WebhookSecret))

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("callback returned %d", resp.StatusCode)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
