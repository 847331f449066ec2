package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"greenlight/internal/config"
	"greenlight/internal/domain"
	"greenlight/internal/engine"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// notificationDispatcher forwards committed notifications to configured
// webhooks. Each hook keeps its own rowid cursor so a slow endpoint never
// stalls the others, and only committed rows are ever delivered.
type notificationDispatcher struct {
	engine   engine.Engine
	webhooks []config.Webhook
	client   *http.Client
	mu       sync.Mutex
	cursors  map[int]int64
}

func startNotificationDispatcher(e engine.Engine) {
	if e.Config == nil || len(e.Config.Webhooks) == 0 {
		return
	}
	d := &notificationDispatcher{
		engine:   e,
		webhooks: e.Config.Webhooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		cursors:  make(map[int]int64),
	}
	go d.run()
}

func (d *notificationDispatcher) run() {
	ticker := time.NewTicker(defaultWebhookInterval)
	defer ticker.Stop()
	for {
		d.dispatchAll()
		<-ticker.C
	}
}

func (d *notificationDispatcher) dispatchAll() {
	for i, hook := range d.webhooks {
		if !hook.IsEnabled() {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(i, hook)
	}
}

func (d *notificationDispatcher) dispatchWebhook(idx int, hook config.Webhook) {
	ctx := context.Background()
	cursor := d.cursorFor(idx)
	notifications, rowIDs, err := d.engine.Repo.NotificationsAfter(ctx, defaultWebhookBatch, cursor)
	if err != nil {
		log.Printf("webhook: fetch notifications failed: %v", err)
		return
	}
	if len(notifications) == 0 {
		return
	}
	filter := newEventFilter(hook.Events)
	for i, n := range notifications {
		rowID := rowIDs[i]
		if !filter.match(string(n.Type)) {
			d.setCursor(idx, rowID)
			continue
		}
		if err := d.postNotification(ctx, hook, n, rowID); err != nil {
			log.Printf("webhook: deliver to %s failed: %v", hook.URL, err)
			return
		}
		d.setCursor(idx, rowID)
	}
}

func (d *notificationDispatcher) cursorFor(idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	ctx := context.Background()
	cur, err := d.engine.Repo.LatestNotificationRowID(ctx)
	if err != nil {
		log.Printf("webhook: init cursor failed: %v", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *notificationDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookNotification struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	ProjectID string `json:"project_id,omitempty"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

func (d *notificationDispatcher) postNotification(ctx context.Context, hook config.Webhook, n domain.Notification, rowID int64) error {
	body := webhookNotification{
		ID:        n.ID,
		Type:      string(n.Type),
		UserID:    n.UserID,
		Title:     n.Title,
		Message:   n.Message,
		CreatedAt: n.CreatedAt,
	}
	if n.ProjectID != nil {
		body.ProjectID = *n.ProjectID
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := d.client
	if timeout != d.client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Greenlight-Event", string(n.Type))
	req.Header.Set("X-Greenlight-Delivery", fmt.Sprintf("%d", rowID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Greenlight-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
