package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

type sentMessage struct {
	Address string
	Body    string
}

type fakeClient struct {
	mu          sync.Mutex
	userID      string
	handler     EventHandler
	autoOpen    bool
	connectErrs []error
	connects    int
	disconnects int
	logouts     int
	logoutErr   error
	sendErrs    map[string]error
	sent        []sentMessage
	connected   bool
	loggedIn    bool

	// connectGate blocks Connect until closed, after announcing the call on
	// connectEntered.
	connectGate    chan struct{}
	connectEntered chan struct{}

	logoutsConnected int
}

func (c *fakeClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	gate, entered := c.connectGate, c.connectEntered
	c.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	c.mu.Lock()
	c.connects++
	var err error
	if len(c.connectErrs) > 0 {
		err = c.connectErrs[0]
		if len(c.connectErrs) > 1 {
			c.connectErrs = c.connectErrs[1:]
		}
	}
	if err == nil {
		c.connected = true
	}
	open := c.autoOpen && err == nil
	c.mu.Unlock()

	if open {
		c.emit(ConnectionOpened{})
	}
	return err
}

func (c *fakeClient) Disconnect() {
	c.mu.Lock()
	c.disconnects++
	c.connected = false
	c.mu.Unlock()
}

func (c *fakeClient) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logouts++
	if c.connected {
		c.logoutsConnected++
	}
	c.connected = false
	c.loggedIn = false
	return c.logoutErr
}

func (c *fakeClient) SendText(ctx context.Context, address string, body string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sendErrs[address]; err != nil {
		return "", err
	}
	c.sent = append(c.sent, sentMessage{Address: address, Body: body})
	return fmt.Sprintf("MSG%d", len(c.sent)), nil
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) IsLoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedIn
}

func (c *fakeClient) emit(evt interface{}) {
	c.handler(evt)
}

func (c *fakeClient) update(fn func(c *fakeClient)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}

func (c *fakeClient) Connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

func (c *fakeClient) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

func (c *fakeClient) LogoutsConnected() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logoutsConnected
}

func (c *fakeClient) Sent() []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMessage(nil), c.sent...)
}

type fakeFactory struct {
	mu        sync.Mutex
	clients   map[string][]*fakeClient
	configure func(*fakeClient)
	err       error

	// gate blocks NewClient until closed, after announcing the call on entered.
	gate    chan struct{}
	entered chan struct{}
}

func newFakeFactory(configure func(*fakeClient)) *fakeFactory {
	return &fakeFactory{clients: make(map[string][]*fakeClient), configure: configure}
}

func (f *fakeFactory) NewClient(ctx context.Context, userID string, handler EventHandler) (Client, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeClient{userID: userID, handler: handler, autoOpen: true, loggedIn: true}
	if f.configure != nil {
		f.configure(c)
	}
	f.clients[userID] = append(f.clients[userID], c)
	return c, nil
}

func (f *fakeFactory) last(userID string) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.clients[userID]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func (f *fakeFactory) count(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients[userID])
}

type fakeCredentials struct {
	mu        sync.Mutex
	stored    map[string]string
	deleted   []string
	deleteErr error
}

func newFakeCredentials(users ...string) *fakeCredentials {
	c := &fakeCredentials{stored: make(map[string]string)}
	for _, u := range users {
		c.stored[u] = ""
	}
	return c
}

func (c *fakeCredentials) Path(userID string) string {
	return "auth_states/state_" + userID + ".db"
}

func (c *fakeCredentials) Save(ctx context.Context, userID string, account string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stored[userID] = account
	return nil
}

func (c *fakeCredentials) Delete(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, userID)
	if c.deleteErr != nil {
		return c.deleteErr
	}
	delete(c.stored, userID)
	return nil
}

func (c *fakeCredentials) List(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for u := range c.stored {
		out = append(out, u)
	}
	return out, nil
}

func (c *fakeCredentials) has(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.stored[userID]
	return ok
}

func (c *fakeCredentials) account(userID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stored[userID]
}

func (c *fakeCredentials) deletedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.deleted)
}

var errBoom = errors.New("boom")

func fastRetry(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    maxAttempts,
		BaseDelay:      time.Millisecond,
		MaxDelay:       4 * time.Millisecond,
		ConnectTimeout: time.Second,
	}
}

type transitionLog struct {
	mu   sync.Mutex
	list []Transition
}

func (l *transitionLog) observe(t Transition) {
	l.mu.Lock()
	l.list = append(l.list, t)
	l.mu.Unlock()
}

func (l *transitionLog) statuses() []Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Status, 0, len(l.list))
	for _, t := range l.list {
		out = append(out, t.To)
	}
	return out
}
