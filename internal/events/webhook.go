package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/golemteam/golem/internal/config"
)

// WebhookConfig describes a single webhook destination.
type WebhookConfig struct {
	Name       string
	URL        string
	Events     []EventType
	Headers    map[string]string
	Timeout    time.Duration
	MaxRetries int
	Template   string // "generic" or "slack"
}

// WebhooksFromConfig converts the [webhooks] tables, expanding ${VAR}
// references in URLs and header values.
func WebhooksFromConfig(hooks map[string]config.WebhookConfig) ([]WebhookConfig, error) {
	names := make([]string, 0, len(hooks))
	for name := range hooks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]WebhookConfig, 0, len(hooks))
	for _, name := range names {
		h := hooks[name]
		u, err := ExpandWebhookEnv(h.URL)
		if err != nil {
			return nil, fmt.Errorf("webhooks.%s: %w", name, err)
		}
		headers := make(map[string]string, len(h.Headers))
		for k, v := range h.Headers {
			if headers[k], err = ExpandWebhookEnv(v); err != nil {
				return nil, fmt.Errorf("webhooks.%s.headers.%s: %w", name, k, err)
			}
		}
		types := make([]EventType, len(h.Events))
		for i, e := range h.Events {
			types[i] = EventType(e)
		}
		out = append(out, WebhookConfig{
			Name:       name,
			URL:        u,
			Events:     types,
			Headers:    headers,
			Timeout:    time.Duration(h.Timeout) * time.Second,
			MaxRetries: h.Retries,
			Template:   h.Template,
		})
	}
	return out, nil
}

// WebhookManager subscribes to events and delivers HTTP POST notifications.
type WebhookManager struct {
	bus    *Bus
	logger *slog.Logger
	hooks  []*webhookEntry
	client *http.Client
	subIDs []uint64

	ctx      context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup
	mu       sync.Mutex
}

type webhookEntry struct {
	cfg      WebhookConfig
	failures int
	tripped  bool // circuit breaker open
}

// NewWebhookManager creates a webhook manager and subscribes to events.
func NewWebhookManager(bus *Bus, configs []WebhookConfig, logger *slog.Logger) *WebhookManager {
	ctx, cancel := context.WithCancel(context.Background())
	wm := &WebhookManager{
		bus:    bus,
		logger: logger,
		client: &http.Client{},
		ctx:    ctx,
		cancel: cancel,
	}

	for _, cfg := range configs {
		if cfg.Timeout == 0 {
			cfg.Timeout = 5 * time.Second
		}
		if cfg.MaxRetries == 0 {
			cfg.MaxRetries = 3
		}
		if cfg.Template == "" {
			cfg.Template = "generic"
		}
		wm.hooks = append(wm.hooks, &webhookEntry{cfg: cfg})
	}

	wm.subscribe()
	return wm
}

func (wm *WebhookManager) subscribe() {
	seen := make(map[EventType]bool)
	for _, h := range wm.hooks {
		for _, et := range h.cfg.Events {
			if seen[et] {
				continue
			}
			seen[et] = true
			wm.subIDs = append(wm.subIDs, wm.bus.Subscribe(et, wm.dispatch))
		}
	}
}

// Stop unsubscribes from all events and waits for in-flight deliveries
// until ctx is done, then abandons them.
func (wm *WebhookManager) Stop(ctx context.Context) {
	for _, id := range wm.subIDs {
		wm.bus.Unsubscribe(id)
	}

	done := make(chan struct{})
	go func() {
		wm.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	wm.cancel()
}

func (wm *WebhookManager) dispatch(e Event) {
	for _, h := range wm.hooks {
		if !slices.Contains(h.cfg.Events, e.Type) {
			continue
		}
		// Deliver asynchronously to avoid blocking the event bus.
		wm.inflight.Add(1)
		go func() {
			defer wm.inflight.Done()
			wm.deliver(h, e)
		}()
	}
}

func (wm *WebhookManager) deliver(h *webhookEntry, e Event) {
	wm.mu.Lock()
	if h.tripped {
		wm.mu.Unlock()
		return
	}
	wm.mu.Unlock()

	payload := buildPayload(h.cfg.Template, e)
	delivery := uuid.NewString()

	var lastErr error
	for attempt := range h.cfg.MaxRetries {
		if attempt > 0 {
			delay := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-time.After(delay):
			case <-wm.ctx.Done():
				return
			}
		}

		if err := wm.send(h, delivery, payload); err != nil {
			lastErr = err
			continue
		}

		wm.mu.Lock()
		h.failures = 0
		wm.mu.Unlock()
		return
	}

	wm.mu.Lock()
	h.failures++
	if h.failures >= 5 {
		h.tripped = true
		wm.logger.Warn("webhook circuit breaker tripped",
			"name", h.cfg.Name, "url", h.cfg.URL)
	}
	wm.mu.Unlock()

	wm.logger.Error("webhook delivery failed",
		"name", h.cfg.Name,
		"url", h.cfg.URL,
		"event", string(e.Type),
		"error", lastErr,
	)
}

func (wm *WebhookManager) send(h *webhookEntry, delivery string, payload []byte) error {
	ctx, cancel := context.WithTimeout(wm.ctx, h.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "golem-webhook/1.0")
	req.Header.Set("X-Golem-Delivery", delivery)
	for k, v := range h.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := wm.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// buildPayload generates the JSON body based on template name.
func buildPayload(template string, e Event) []byte {
	var payload any

	switch template {
	case "slack":
		text := fmt.Sprintf("golem %s on %s: %s", e.Type, hostname(), formatEventData(e.Data))
		payload = map[string]string{"text": strings.TrimSuffix(text, ": ")}

	default: // "generic"
		payload = map[string]any{
			"event":     string(e.Type),
			"timestamp": e.Timestamp.Format(time.RFC3339),
			"host":      hostname(),
			"master":    e.Data["master"],
			"worker":    e.Data["worker"],
			"details":   e.Data,
		}
	}

	data, _ := json.Marshal(payload)
	return data
}

func formatEventData(data map[string]string) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+data[k])
	}
	return strings.Join(parts, " ")
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

// ExpandWebhookEnv resolves ${VAR} references in a string from environment.
// An undefined variable is an error. A bare $ is left alone.
func ExpandWebhookEnv(s string) (string, error) {
	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			b.WriteString(s)
			return b.String(), nil
		}
		end := strings.IndexByte(s[start:], '}')
		if end < 0 {
			return "", fmt.Errorf("unclosed ${} in %q", s)
		}
		name := s[start+2 : start+end]
		val, ok := lookupEnv(name)
		if !ok {
			return "", fmt.Errorf("undefined environment variable: %s", name)
		}
		b.WriteString(s[:start])
		b.WriteString(val)
		s = s[start+end+1:]
	}
}

// lookupEnv wraps os.LookupEnv for testability.
var lookupEnv = os.LookupEnv
