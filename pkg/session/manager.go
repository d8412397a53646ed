package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/log"
	"github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/validation"
)

const (
	logoutRequestTimeout = 30 * time.Second
	cleanupTimeout       = 10 * time.Second
	defaultQRTimeout     = 60 * time.Second
)

// AutoReply answers incoming personal chat messages.
type AutoReply struct {
	Enabled     bool
	Keyword     string
	KeywordText string
	DefaultText string
}

// Reply returns the answer for text, or false when nothing should be sent.
func (a AutoReply) Reply(text string) (string, bool) {
	if !a.Enabled {
		return "", false
	}
	if a.Keyword != "" && strings.EqualFold(strings.TrimSpace(text), a.Keyword) {
		return a.KeywordText, a.KeywordText != ""
	}
	return a.DefaultText, a.DefaultText != ""
}

type Options struct {
	Retry     RetryPolicy
	SendRate  rate.Limit
	SendBurst int
	AutoReply AutoReply
	Observer  Observer

	// LogoutGrace delays the credential removal after a server side logout
	// so the client can finish its own store cleanup first.
	LogoutGrace time.Duration
}

// Result is the outcome of one recipient of a send request.
type Result struct {
	Recipient string `json:"recipient"`
	Address   string `json:"address,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// HealthReport summarizes one HealthCheck pass.
type HealthReport struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`
	Pending   int `json:"pending"`
}

// Manager owns the session lifecycle: it creates sessions in the Store,
// reacts to client events and runs the bounded reconnect loops.
type Manager struct {
	store       *Store
	factory     Factory
	credentials Credentials
	opts        Options
	qrCodes     *cache.Cache

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(store *Store, factory Factory, credentials Credentials, opts Options) *Manager {
	opts.Retry = opts.Retry.withDefaults()
	if opts.SendRate <= 0 {
		opts.SendRate = rate.Inf
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:       store,
		factory:     factory,
		credentials: credentials,
		opts:        opts,
		qrCodes:     cache.New(defaultQRTimeout, 5*time.Minute),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (m *Manager) Store() *Store {
	return m.store
}

// Login creates the session of userID and starts the handshake. The QR
// code, if any, is delivered later through events.
func (m *Manager) Login(ctx context.Context, userID string) (Info, error) {
	sess, err := m.open(ctx, userID)
	if err != nil {
		return Info{}, err
	}

	if err := m.connect(ctx, sess); err != nil {
		m.discard(sess)
		return Info{}, errors.Wrapf(err, "start session %s", userID)
	}
	if m.orphaned(sess) {
		return Info{}, errors.Wrapf(ErrNotFound, "session of %s closed during login", userID)
	}

	log.Session(userID).Info("Login process started")
	return sess.Info(), nil
}

// Restore resumes a session from persisted credentials. A failing first
// connect is handed to the reconnect loop.
func (m *Manager) Restore(ctx context.Context, userID string) error {
	sess, err := m.open(ctx, userID)
	if err != nil {
		return err
	}

	err = m.connect(ctx, sess)
	if m.orphaned(sess) {
		return errors.Wrapf(ErrNotFound, "session of %s closed during restore", userID)
	}
	if err != nil {
		m.scheduleReconnect(sess, CauseConnectFailure, err)
		return errors.Mark(errors.Wrapf(err, "restore session %s", userID), ErrTransientDisconnect)
	}
	return nil
}

func (m *Manager) open(ctx context.Context, userID string) (*Session, error) {
	if err := validation.ValidateUserID(userID); err != nil {
		return nil, validationError(err, "invalid user id")
	}

	previous, exists := m.store.Get(userID)
	if exists && previous.Status().Live() {
		return nil, errors.Wrapf(ErrConflict, "user %s", userID)
	}

	userID = strings.Clone(userID)
	sess := newSession(userID, m.credentials.Path(userID), m.opts.SendRate, m.opts.SendBurst)
	if err := m.store.Put(sess); err != nil {
		return nil, err
	}
	if exists {
		if client := previous.Client(); client != nil {
			client.Disconnect()
		}
	}

	client, err := m.factory.NewClient(ctx, userID, m.handler(sess))
	if err != nil {
		m.store.RemoveIf(userID, sess)
		return nil, errors.Wrapf(err, "create client for %s", userID)
	}
	sess.setClient(client)
	if m.orphaned(sess) {
		return nil, errors.Wrapf(ErrNotFound, "session of %s closed while creating its client", userID)
	}
	return sess, nil
}

// orphaned reports whether sess lost its store entry or started closing
// while a client call was in flight. The client of an orphaned session is
// disconnected so it cannot keep the device online or write credentials.
func (m *Manager) orphaned(sess *Session) bool {
	if m.store.current(sess) && !sess.isClosing() {
		return false
	}
	if client := sess.Client(); client != nil {
		client.Disconnect()
	}
	return true
}

func (m *Manager) connect(ctx context.Context, sess *Session) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, m.opts.Retry.ConnectTimeout)
	defer cancel()
	return sess.Client().Connect(ctx)
}

func (m *Manager) discard(sess *Session) {
	m.store.RemoveIf(sess.UserID, sess)
	m.qrCodes.Delete(sess.UserID)
	if client := sess.Client(); client != nil {
		client.Disconnect()
	}
}

// Send dispatches body to every recipient in order and waits for each outcome.
func (m *Manager) Send(ctx context.Context, userID string, recipients []string, body string) ([]Result, error) {
	sess, ok := m.store.Get(userID)
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "user %s", userID)
	}
	if len(recipients) == 0 {
		return nil, validationError(nil, "destinataires must be a non-empty array")
	}
	if strings.TrimSpace(body) == "" {
		return nil, validationError(nil, "message is required")
	}

	addresses := make([]string, len(recipients))
	for i, recipient := range recipients {
		address, err := validation.NormalizeRecipient(recipient)
		if err != nil {
			return nil, validationError(err, "invalid number format for %q", recipient)
		}
		addresses[i] = address
	}

	if status := sess.Status(); status != StatusConnected {
		err := errors.Wrapf(ErrNotConnected, "user %s is %s", userID, status)
		if status == StatusFailed {
			err = errors.Mark(err, ErrRetryExhausted)
		}
		return nil, err
	}

	if ctx == nil {
		ctx = context.Background()
	}

	sess.sendMu.Lock()
	defer sess.sendMu.Unlock()

	client := sess.Client()
	results := make([]Result, len(recipients))
	failed := 0
	for i := range recipients {
		res := Result{Recipient: recipients[i], Address: addresses[i]}
		err := sess.limiter.Wait(ctx)
		if err == nil {
			res.MessageID, err = client.SendText(ctx, addresses[i], body)
		}
		if err != nil {
			failed++
			res.Error = err.Error()
			log.Session(userID).WithError(err).WithField("address", addresses[i]).Warn("Failed to send message")
		}
		results[i] = res
	}

	switch {
	case failed == len(results):
		return results, errors.Mark(errors.Newf("all %d messages failed", failed), ErrDispatch)
	case failed > 0:
		return results, errors.Mark(errors.Newf("%d of %d messages failed", failed, len(results)), ErrPartialDispatch)
	}
	log.Session(userID).WithField("recipients", len(results)).Info("Messages sent")
	return results, nil
}

// Logout invalidates the device, removes the session and deletes its credentials.
func (m *Manager) Logout(ctx context.Context, userID string) error {
	sess, ok := m.store.Get(userID)
	if !ok || !sess.beginClose() {
		return errors.Wrapf(ErrNotFound, "user %s", userID)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if client := sess.Client(); client != nil {
		logoutCtx, cancel := context.WithTimeout(ctx, logoutRequestTimeout)
		// The device can only be unlinked over a live connection.
		if !client.IsConnected() {
			if err := client.Connect(logoutCtx); err != nil {
				log.Session(userID).WithError(err).Warn("Failed to reconnect before logout")
			}
		}
		err := client.Logout(logoutCtx)
		cancel()
		if err != nil {
			log.Session(userID).WithError(err).Warn("Server side logout failed, disconnecting")
			client.Disconnect()
		}
	}

	m.qrCodes.Delete(userID)
	m.transition(sess, StatusLoggedOut, CauseLoggedOut)
	m.store.RemoveIf(userID, sess)

	cleanupCtx, cancel := context.WithTimeout(ctx, cleanupTimeout)
	defer cancel()
	if err := m.credentials.Delete(cleanupCtx, userID); err != nil {
		log.Session(userID).WithError(err).Error("Failed to delete credentials")
		return errors.Mark(errors.Wrapf(err, "delete credentials of %s", userID), ErrCleanup)
	}

	log.Session(userID).Info("Logged out")
	return nil
}

func (m *Manager) Status(userID string) (Info, error) {
	sess, ok := m.store.Get(userID)
	if !ok {
		return Info{}, errors.Wrapf(ErrNotFound, "user %s", userID)
	}
	return sess.Info(), nil
}

func (m *Manager) Sessions() []Info {
	sessions := m.store.List()
	out := make([]Info, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.Info())
	}
	return out
}

// QR returns the pending pairing code of userID.
func (m *Manager) QR(userID string) (QRCode, error) {
	if _, ok := m.store.Get(userID); !ok {
		return QRCode{}, errors.Wrapf(ErrNotFound, "user %s", userID)
	}
	v, ok := m.qrCodes.Get(userID)
	if !ok {
		return QRCode{}, errors.Wrapf(ErrNotFound, "no pending QR code for %s", userID)
	}
	return v.(QRCode), nil
}

// HealthCheck treats connected sessions whose client dropped silently as
// lost connections. A reconnecting session without a running loop is
// either promoted to connected or sent back to the reconnect loop.
func (m *Manager) HealthCheck(ctx context.Context) HealthReport {
	var report HealthReport
	for _, sess := range m.store.List() {
		if ctx.Err() != nil {
			break
		}
		report.Total++
		status := sess.Status()
		stalled := status == StatusReconnecting && !sess.reconnectRunning()
		if status != StatusConnected && !stalled {
			report.Pending++
			continue
		}
		client := sess.Client()
		if client.IsConnected() && client.IsLoggedIn() {
			report.Healthy++
			if stalled {
				m.handler(sess)(ConnectionOpened{})
			}
			continue
		}
		report.Unhealthy++
		log.Session(sess.UserID).Warn("Client unhealthy")
		m.handler(sess)(ConnectionClosed{Cause: CauseConnectionLost})
	}
	return report
}

// Shutdown stops reconnect loops and disconnects every client without
// touching credentials.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	for _, sess := range m.store.List() {
		if client := sess.Client(); client != nil {
			client.Disconnect()
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) transition(sess *Session, to Status, cause DisconnectCause) {
	from, changed := sess.setStatus(to)
	if !changed {
		return
	}
	entry := log.Session(sess.UserID).WithField("from", from).WithField("to", to)
	if cause != CauseNone {
		entry = entry.WithField("cause", cause)
	}
	entry.Info("Session status changed")

	if m.opts.Observer != nil {
		m.opts.Observer(Transition{
			UserID: sess.UserID,
			From:   from,
			To:     to,
			Cause:  cause,
			At:     time.Now(),
		})
	}
}

func (m *Manager) handler(sess *Session) EventHandler {
	return func(evt interface{}) {
		if !m.store.current(sess) || sess.isClosing() {
			return
		}
		switch e := evt.(type) {
		case ConnectionOpened:
			m.onOpened(sess)
		case ConnectionClosed:
			m.onClosed(sess, e)
		case QRCode:
			m.onQRCode(sess, e)
		case CredentialsUpdated:
			m.onCredentialsUpdated(sess, e)
		case MessageReceived:
			m.onMessage(sess, e)
		}
	}
}

func (m *Manager) onOpened(sess *Session) {
	sess.markConnected()
	m.qrCodes.Delete(sess.UserID)
	m.transition(sess, StatusConnected, CauseNone)
}

func (m *Manager) onClosed(sess *Session, e ConnectionClosed) {
	if e.Cause.Terminal() {
		m.terminate(sess, e.Cause)
		return
	}
	if sess.Status().Terminal() {
		return
	}
	m.scheduleReconnect(sess, e.Cause, e.Err)
}

func (m *Manager) onQRCode(sess *Session, e QRCode) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = defaultQRTimeout
	}
	m.qrCodes.Set(sess.UserID, e, timeout)
	m.transition(sess, StatusAwaitingScan, CauseNone)
}

func (m *Manager) onCredentialsUpdated(sess *Session, e CredentialsUpdated) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(m.ctx, cleanupTimeout)
		defer cancel()
		if err := m.credentials.Save(ctx, sess.UserID, e.Account); err != nil {
			log.Session(sess.UserID).WithError(err).Error("Failed to persist credentials")
		}
	}()
}

func (m *Manager) onMessage(sess *Session, e MessageReceived) {
	if e.FromMe || e.IsGroup {
		return
	}
	reply, ok := m.opts.AutoReply.Reply(e.Text)
	if !ok {
		return
	}
	client := sess.Client()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(m.ctx, m.opts.Retry.ConnectTimeout)
		defer cancel()
		if _, err := client.SendText(ctx, e.Chat, reply); err != nil {
			log.Session(sess.UserID).WithError(err).Warn("Failed to send auto reply")
		}
	}()
}

// terminate handles a server side logout.
func (m *Manager) terminate(sess *Session, cause DisconnectCause) {
	m.transition(sess, StatusLoggedOut, cause)
	m.store.RemoveIf(sess.UserID, sess)
	m.qrCodes.Delete(sess.UserID)
	if client := sess.Client(); client != nil {
		client.Disconnect()
	}

	if m.opts.LogoutGrace <= 0 {
		m.deleteCredentials(sess.UserID)
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		timer := time.NewTimer(m.opts.LogoutGrace)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-m.ctx.Done():
		}
		if _, relogged := m.store.Get(sess.UserID); relogged {
			log.Session(sess.UserID).Info("Keeping credentials of the new session")
			return
		}
		m.deleteCredentials(sess.UserID)
	}()
}

func (m *Manager) deleteCredentials(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := m.credentials.Delete(ctx, userID); err != nil {
		log.Session(userID).WithError(err).Error("Failed to delete credentials after logout")
	}
}

func (m *Manager) scheduleReconnect(sess *Session, cause DisconnectCause, err error) {
	sess.setLastError(err)
	m.transition(sess, StatusReconnecting, cause)
	if !sess.beginReconnect() {
		return
	}
	m.wg.Add(1)
	go m.reconnect(sess)
}

func (m *Manager) reconnect(sess *Session) {
	defer m.wg.Done()

	for {
		attempt := sess.nextAttempt()
		if attempt > m.opts.Retry.MaxAttempts {
			sess.stopReconnect()
			m.fail(sess)
			return
		}

		timer := time.NewTimer(m.opts.Retry.Backoff(attempt))
		select {
		case <-m.ctx.Done():
			timer.Stop()
			sess.stopReconnect()
			return
		case <-timer.C:
		}

		if !m.store.current(sess) || sess.isClosing() || sess.Status() != StatusReconnecting {
			sess.stopReconnect()
			return
		}

		log.Session(sess.UserID).WithField("attempt", attempt).WithField("max_attempts", m.opts.Retry.MaxAttempts).Info("Reconnecting")
		sess.clearReconnectPending()
		err := m.connect(m.ctx, sess)
		if m.orphaned(sess) {
			sess.stopReconnect()
			return
		}
		if err != nil {
			sess.setLastError(err)
			log.Session(sess.UserID).WithError(err).WithField("attempt", attempt).Warn("Reconnect attempt failed")
			continue
		}
		if sess.finishReconnect() {
			return
		}
	}
}

func (m *Manager) fail(sess *Session) {
	if client := sess.Client(); client != nil {
		client.Disconnect()
	}
	m.qrCodes.Delete(sess.UserID)
	m.transition(sess, StatusFailed, CauseRetryExhausted)
	log.Session(sess.UserID).WithField("max_attempts", m.opts.Retry.MaxAttempts).Error("Giving up reconnecting")
}
