package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/log"
	"github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/session"
)

type Config struct {
	URLs       []string
	Secret     string
	Workers    int
	RetryLimit int
	RetryDelay time.Duration
	QueueSize  int
	// AllowInsecure accepts plain http and private network targets.
	AllowInsecure bool
}

// Engine posts session transitions to the configured URLs from a pool of workers.
type Engine struct {
	targets    []string
	secret     string
	httpClient *http.Client
	queue      chan *deliveryTask
	workers    int
	retryLimit int
	retryDelay time.Duration
	allowAny   bool

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

type deliveryTask struct {
	url   string
	event WebhookEvent
}

func NewEngine(cfg Config) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}

	ctx, cancel := context.WithCancel(context.Background())
	engine := &Engine{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		queue:      make(chan *deliveryTask, cfg.QueueSize),
		secret:     cfg.Secret,
		workers:    cfg.Workers,
		retryLimit: cfg.RetryLimit,
		retryDelay: cfg.RetryDelay,
		allowAny:   cfg.AllowInsecure,
		ctx:        ctx,
		cancel:     cancel,
	}

	for _, raw := range cfg.URLs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if err := engine.validateURL(raw); err != nil {
			log.Logger().WithError(err).WithField("url", raw).Warn("Ignoring webhook target")
			continue
		}
		engine.targets = append(engine.targets, raw)
	}

	if len(engine.targets) > 0 {
		for i := 0; i < engine.workers; i++ {
			engine.wg.Add(1)
			go engine.worker()
		}
	}
	return engine
}

func (e *Engine) Enabled() bool {
	return len(e.targets) > 0
}

func (e *Engine) Stats() Stats {
	return Stats{
		Targets:   len(e.targets),
		Delivered: e.delivered.Load(),
		Failed:    e.failed.Load(),
		Dropped:   e.dropped.Load(),
	}
}

// Observe enqueues a transition for every target. It never blocks; events
// are dropped when the queue is full or the engine is shutting down.
func (e *Engine) Observe(t session.Transition) {
	if !e.Enabled() || e.ctx.Err() != nil {
		return
	}
	data := map[string]interface{}{
		"from": t.From,
		"to":   t.To,
	}
	if t.Cause != session.CauseNone {
		data["cause"] = t.Cause
	}
	e.Dispatch(WebhookEvent{
		EventType: eventTypeFor(t.To),
		UserID:    t.UserID,
		Timestamp: t.At,
		Data:      data,
	})
}

func (e *Engine) Dispatch(event WebhookEvent) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.dropped.Add(int64(len(e.targets)))
		return
	}
	for _, target := range e.targets {
		select {
		case e.queue <- &deliveryTask{url: target, event: event}:
		default:
			e.dropped.Add(1)
			log.Session(event.UserID).WithField("event", event.EventType).Warn("Webhook queue full, event dropped")
		}
	}
}

// Shutdown stops accepting events and waits for queued deliveries until ctx ends.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		<-done
		return ctx.Err()
	}
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for task := range e.queue {
		e.deliver(task)
	}
}

func (e *Engine) deliver(task *deliveryTask) {
	entry := log.Session(task.event.UserID).WithField("event", task.event.EventType).WithField("url", task.url)

	payload, err := json.Marshal(task.event)
	if err != nil {
		e.failed.Add(1)
		entry.WithError(err).Error("Failed to encode webhook event")
		return
	}
	signature := e.generateSignature(payload)

	var lastErr error
	for attempt := 1; attempt <= e.retryLimit; attempt++ {
		lastErr = e.post(task, payload, signature)
		if lastErr == nil {
			e.delivered.Add(1)
			entry.WithField("attempt", attempt).Debug("Webhook delivered")
			return
		}
		if attempt < e.retryLimit && !e.wait(time.Duration(attempt)*e.retryDelay) {
			break
		}
	}

	e.failed.Add(1)
	entry.WithError(lastErr).WithField("attempts", e.retryLimit).Warn("Webhook delivery failed")
}

func (e *Engine) post(task *deliveryTask, payload []byte, signature string) error {
	req, err := http.NewRequestWithContext(e.ctx, http.MethodPost, task.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "WhatsApp-Multi-User-Gateway/1.0")
	req.Header.Set("X-Webhook-Event", string(task.event.EventType))
	if signature != "" {
		req.Header.Set("X-Webhook-Signature", signature)
		req.Header.Set("X-Hub-Signature-256", signature)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return errors.Newf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// wait sleeps for d and reports false if the engine was cancelled meanwhile.
func (e *Engine) wait(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-e.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (e *Engine) generateSignature(payload []byte) string {
	if e.secret == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(e.secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (e *Engine) validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return errors.New("webhook URL has no host")
	}
	if e.allowAny {
		if u.Scheme != "https" && u.Scheme != "http" {
			return errors.Newf("unsupported scheme %q", u.Scheme)
		}
		return nil
	}

	if u.Scheme != "https" {
		return errors.New("only HTTPS URLs are allowed")
	}

	host := strings.ToLower(u.Hostname())
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return errors.New("private/local network URLs are not allowed")
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() {
			return errors.New("private/local network URLs are not allowed")
		}
	}
	return nil
}
