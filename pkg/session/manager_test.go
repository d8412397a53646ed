package session

import (
	"context"
	"testing"
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func newTestManager(t *testing.T, factory *fakeFactory, creds *fakeCredentials, opts Options) *Manager {
	t.Helper()
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = fastRetry(3)
	}
	m := NewManager(NewStore(), factory, creds, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func TestLoginCreatesExactlyOneSession(t *testing.T) {
	factory := newFakeFactory(nil)
	m := newTestManager(t, factory, newFakeCredentials(), Options{})

	info, err := m.Login(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", info.UserID)
	assert.Equal(t, "auth_states/state_u1.db", info.CredentialPath)
	assert.Equal(t, 1, m.Store().Len())
	assert.Equal(t, 1, factory.count("u1"))

	_, err = m.Login(context.Background(), "u1")
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 1, m.Store().Len())
	assert.Equal(t, 1, factory.count("u1"))
	assert.Equal(t, 1, factory.last("u1").Connects())
}

func TestLoginRejectsInvalidUserID(t *testing.T) {
	factory := newFakeFactory(nil)
	m := newTestManager(t, factory, newFakeCredentials(), Options{})

	_, err := m.Login(context.Background(), "../etc")
	require.True(t, errors.Is(err, ErrValidation), "%+v", err)
	assert.Equal(t, 0, m.Store().Len())
	assert.Equal(t, 0, factory.count("../etc"))
}

func TestLoginConnectFailureDiscardsSession(t *testing.T) {
	factory := newFakeFactory(func(c *fakeClient) { c.connectErrs = []error{errBoom} })
	m := newTestManager(t, factory, newFakeCredentials(), Options{})

	_, err := m.Login(context.Background(), "u1")
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 0, m.Store().Len())
	assert.Equal(t, 1, factory.last("u1").Disconnects())

	// a later login is allowed again
	factory.configure = nil
	_, err = m.Login(context.Background(), "u1")
	require.NoError(t, err)
}

func TestLoginFactoryFailure(t *testing.T) {
	factory := newFakeFactory(nil)
	factory.err = errBoom
	m := newTestManager(t, factory, newFakeCredentials(), Options{})

	_, err := m.Login(context.Background(), "u1")
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, 0, m.Store().Len())
}

func TestSendWithoutSessionIsNotFound(t *testing.T) {
	factory := newFakeFactory(nil)
	m := newTestManager(t, factory, newFakeCredentials(), Options{})

	_, err := m.Send(context.Background(), "ghost", []string{"33612345678"}, "hi")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, factory.count("ghost"))
}

func TestSendValidation(t *testing.T) {
	factory := newFakeFactory(nil)
	m := newTestManager(t, factory, newFakeCredentials(), Options{})
	_, err := m.Login(context.Background(), "u1")
	require.NoError(t, err)
	client := factory.last("u1")

	_, err = m.Send(context.Background(), "u1", nil, "hi")
	assert.True(t, errors.Is(err, ErrValidation), "%+v", err)

	_, err = m.Send(context.Background(), "u1", []string{"33612345678"}, "  ")
	assert.True(t, errors.Is(err, ErrValidation), "%+v", err)

	// a bad number anywhere in the list rejects the whole request
	_, err = m.Send(context.Background(), "u1", []string{"33612345678", "06 12 34 56 78"}, "hi")
	assert.True(t, errors.Is(err, ErrValidation), "%+v", err)
	assert.Contains(t, err.Error(), "international format")

	assert.Empty(t, client.Sent())
}

func TestSendRequiresConnectedSession(t *testing.T) {
	factory := newFakeFactory(func(c *fakeClient) { c.autoOpen = false })
	m := newTestManager(t, factory, newFakeCredentials(), Options{})
	_, err := m.Login(context.Background(), "u1")
	require.NoError(t, err)

	_, err = m.Send(context.Background(), "u1", []string{"33612345678"}, "hi")
	require.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, factory.last("u1").Sent())
}

func TestSendNormalizesAndReportsEveryRecipient(t *testing.T) {
	factory := newFakeFactory(func(c *fakeClient) {
		c.sendErrs = map[string]error{"14155550100@s.whatsapp.net": errBoom}
	})
	m := newTestManager(t, factory, newFakeCredentials(), Options{})
	_, err := m.Login(context.Background(), "u1")
	require.NoError(t, err)

	results, err := m.Send(context.Background(), "u1", []string{"+33 6 12 34 56 78", "+1 415 555 0100", "4915112345678"}, "hi")
	require.True(t, errors.Is(err, ErrPartialDispatch), "%+v", err)
	require.Len(t, results, 3)

	assert.Equal(t, "+33 6 12 34 56 78", results[0].Recipient)
	assert.Equal(t, "33612345678@s.whatsapp.net", results[0].Address)
	assert.NotEmpty(t, results[0].MessageID)
	assert.Empty(t, results[0].Error)

	assert.Equal(t, "14155550100@s.whatsapp.net", results[1].Address)
	assert.Empty(t, results[1].MessageID)
	assert.Equal(t, "boom", results[1].Error)

	assert.Empty(t, results[2].Error)

	assert.Equal(t, []sentMessage{
		{Address: "33612345678@s.whatsapp.net", Body: "hi"},
		{Address: "4915112345678@s.whatsapp.net", Body: "hi"},
	}, factory.last("u1").Sent())
}

func TestSendAllFailedIsDispatchError(t *testing.T) {
	factory := newFakeFactory(func(c *fakeClient) {
		c.sendErrs = map[string]error{"33612345678@s.whatsapp.net": errBoom}
	})
	m := newTestManager(t, factory, newFakeCredentials(), Options{})
	_, err := m.Login(context.Background(), "u1")
	require.NoError(t, err)

	results, err := m.Send(context.Background(), "u1", []string{"33612345678"}, "hi")
	require.True(t, errors.Is(err, ErrDispatch), "%+v", err)
	require.Len(t, results, 1)
	assert.Equal(t, "boom", results[0].Error)
}

func TestLogoutRemovesSessionAndCredentials(t *testing.T) {
	factory := newFakeFactory(nil)
	creds := newFakeCredentials("u1")
	m := newTestManager(t, factory, creds, Options{})
	_, err := m.Login(context.Background(), "u1")
	require.NoError(t, err)

	require.NoError(t, m.Logout(context.Background(), "u1"))

	_, ok := m.Store().Get("u1")
	assert.False(t, ok)
	assert.False(t, creds.has("u1"))
	assert.Equal(t, 1, factory.last("u1").logouts)

	err = m.Logout(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLogoutContinuesWhenServerLogoutFails(t *testing.T) {
	factory := newFakeFactory(func(c *fakeClient) { c.logoutErr = errBoom })
	creds := newFakeCredentials("u1")
	m := newTestManager(t, factory, creds, Options{})
	_, err := m.Login(context.Background(), "u1")
	require.NoError(t, err)

	require.NoError(t, m.Logout(context.Background(), "u1"))
	assert.Equal(t, 1, factory.last("u1").Disconnects())
	assert.False(t, creds.has("u1"))
	assert.Equal(t, 0, m.Store().Len())
}

func TestLogoutReportsCleanupError(t *testing.T) {
	factory := newFakeFactory(nil)
	creds := newFakeCredentials("u1")
	creds.deleteErr = errBoom
	m := newTestManager(t, factory, creds, Options{})
	_, err := m.Login(context.Background(), "u1")
	require.NoError(t, err)

	err = m.Logout(context.Background(), "u1")
	require.True(t, errors.Is(err, ErrCleanup), "%+v", err)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 0, m.Store().Len())
}

func TestLoggedOutEventRemovesSessionAndCredentials(t *testing.T) {
	factory := newFakeFactory(nil)
	creds := newFakeCredentials("u1")
	m := newTestManager(t, factory, creds, Options{})
	_, err := m.Login(context.Background(), "u1")
	require.NoError(t, err)
	client := factory.last("u1")

	client.emit(ConnectionClosed{Cause: CauseLoggedOut})

	_, ok := m.Store().Get("u1")
	assert.False(t, ok)
	assert.False(t, creds.has("u1"))
	assert.Equal(t, 1, client.Disconnects())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, client.Connects(), "no reconnect after a logout")
}

func TestLoggedOutEventDelaysCredentialRemoval(t *testing.T) {
	factory := newFakeFactory(nil)
	creds := newFakeCredentials("u1")
	m := newTestManager(t, factory, creds, Options{LogoutGrace: 30 * time.Millisecond})
	_, err := m.Login(context.Background(), "u1")
	require.NoError(t, err)

	factory.last("u1").emit(ConnectionClosed{Cause: CauseLoggedOut})

	_, ok := m.Store().Get("u1")
	assert.False(t, ok)
	assert.True(t, creds.has("u1"), "credentials stay until the grace period ends")
	require.Eventually(t, func() bool { return !creds.has("u1") }, waitFor, tick)
}

func TestLoggedOutGraceKeepsCredentialsOfNewLogin(t *testing.T) {
	factory := newFakeFactory(nil)
	creds := newFakeCredentials("u1")
	m := newTestManager(t, factory, creds, Options{LogoutGrace: 30 * time.Millisecond})
	_, err := m.Login(context.Background(), "u1")
	require.NoError(t, err)

	factory.last("u1").emit(ConnectionClosed{Cause: CauseLoggedOut})
	_, err = m.Login(context.Background(), "u1")
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.True(t, creds.has("u1"))
	assert.Equal(t, 0, creds.deletedCount())
}

func TestSessionKeyDoesNotAliasCallerMemory(t *testing.T) {
	factory := newFakeFactory(nil)
	m := newTestManager(t, factory, newFakeCredentials(), Options{})

	buf := []byte("alice")
	id := unsafe.String(&buf[0], len(buf))
	_, err := m.Login(context.Background(), id)
	require.NoError(t, err)
	copy(buf, "bobby")

	info, err := m.Status("alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", info.UserID)
	_, err = m.Status("bobby")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNonLogoutDisconnectReconnectsSameUser(t *testing.T) {
	for _, cause := range []DisconnectCause{CauseConnectionLost, CauseStreamReplaced, CausePairingTimeout, CauseKeepAliveTimeout, CauseConnectFailure} {
		t.Run(string(cause), func(t *testing.T) {
			factory := newFakeFactory(nil)
			creds := newFakeCredentials("u1")
			transitions := &transitionLog{}
			m := newTestManager(t, factory, creds, Options{Observer: transitions.observe})
			_, err := m.Login(context.Background(), "u1")
			require.NoError(t, err)
			client := factory.last("u1")

			client.emit(ConnectionClosed{Cause: cause, Err: errBoom})

			_, ok := m.Store().Get("u1")
			require.True(t, ok)
			require.Eventually(t, func() bool {
				info, err := m.Status("u1")
				return err == nil && client.Connects() == 2 && info.Status == StatusConnected
			}, waitFor, tick)

			info, _ := m.Status("u1")
			assert.Zero(t, info.ReconnectAttempts)
			assert.Empty(t, info.LastError)
			assert.Equal(t, 1, factory.count("u1"))
			assert.True(t, creds.has("u1"))
			assert.Equal(t, []Status{StatusConnected, StatusReconnecting, StatusConnected}, transitions.statuses())
		})
	}
}

func TestReconnectIsBoundedAndEndsFailed(t *testing.T) {
	factory := newFakeFactory(func(c *fakeClient) { c.connectErrs = []error{nil, errBoom} })
	creds := newFakeCredentials("u1")
	m := newTestManager(t, factory, creds, Options{Retry: fastRetry(3)})
	_, err := m.Login(context.Background(), "u1")
	require.NoError(t, err)
	client := factory.last("u1")

	client.emit(ConnectionClosed{Cause: CauseConnectionLost})

	require.Eventually(t, func() bool {
		info, err := m.Status("u1")
		return err == nil && info.Status == StatusFailed
	}, waitFor, tick)

	assert.Equal(t, 4, client.Connects())
	assert.GreaterOrEqual(t, client.Disconnects(), 1)
	assert.True(t, creds.has("u1"), "a failed session keeps its credentials")

	info, _ := m.Status("u1")
	assert.Equal(t, "boom", info.LastError)

	_, err = m.Send(context.Background(), "u1", []string{"33612345678"}, "hi")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.True(t, errors.Is(err, ErrRetryExhausted), "%+v", err)

	// further close events do not restart the loop
	client.emit(ConnectionClosed{Cause: CauseConnectionLost})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 4, client.Connects())

	// a failed session is not live: login replaces it
	_, err = m.Login(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, factory.count("u1"))
	assert.NotSame(t, client, factory.last("u1"))
}

func TestRestoreHandsConnectFailureToReconnectLoop(t *testing.T) {
	factory := newFakeFactory(func(c *fakeClient) { c.connectErrs = []error{errBoom, nil} })
	m := newTestManager(t, factory, newFakeCredentials("u1"), Options{})

	err := m.Restore(context.Background(), "u1")
	require.True(t, errors.Is(err, ErrTransientDisconnect), "%+v", err)

	require.Eventually(t, func() bool {
		info, err := m.Status("u1")
		return err == nil && info.Status == StatusConnected
	}, waitFor, tick)
	assert.Equal(t, 2, factory.last("u1").Connects())
}

func TestEventsFromReplacedClientAreIgnored(t *testing.T) {
	factory := newFakeFactory(nil)
	creds := newFakeCredentials("u1")
	m := newTestManager(t, factory, creds, Options{})

	_, err := m.Login(context.Background(), "u1")
	require.NoError(t, err)
	stale := factory.last("u1")
	require.NoError(t, m.Logout(context.Background(), "u1"))

	_, err = m.Login(context.Background(), "u1")
	require.NoError(t, err)
	deleted := creds.deletedCount()

	stale.emit(ConnectionClosed{Cause: CauseLoggedOut})
	stale.emit(ConnectionClosed{Cause: CauseConnectionLost})

	info, err := m.Status("u1")
	require.NoError(t, err)
	assert.Equal(t, StatusConnected, info.Status)
	assert.Equal(t, deleted, creds.deletedCount())
	assert.Equal(t, 1, stale.Connects())
}

func TestQRCodeMovesToAwaitingScan(t *testing.T) {
	factory := newFakeFactory(func(c *fakeClient) { c.autoOpen = false })
	m := newTestManager(t, factory, newFakeCredentials(), Options{})
	_, err := m.Login(context.Background(), "u1")
	require.NoError(t, err)
	client := factory.last("u1")

	_, err = m.QR("u1")
	require.ErrorIs(t, err, ErrNotFound)

	client.emit(QRCode{Code: "2@abc,def", Timeout: time.Minute})
	info, _ := m.Status("u1")
	assert.Equal(t, StatusAwaitingScan, info.Status)

	qr, err := m.QR("u1")
	require.NoError(t, err)
	assert.Equal(t, "2@abc,def", qr.Code)

	client.emit(ConnectionOpened{})
	info, _ = m.Status("u1")
	assert.Equal(t, StatusConnected, info.Status)
	_, err = m.QR("u1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCredentialsUpdatedArePersisted(t *testing.T) {
	factory := newFakeFactory(nil)
	creds := newFakeCredentials()
	m := newTestManager(t, factory, creds, Options{})
	_, err := m.Login(context.Background(), "u1")
	require.NoError(t, err)

	factory.last("u1").emit(CredentialsUpdated{Account: "33612345678:4@s.whatsapp.net"})

	require.Eventually(t, func() bool {
		return creds.account("u1") == "33612345678:4@s.whatsapp.net"
	}, waitFor, tick)
}

func TestAutoReply(t *testing.T) {
	factory := newFakeFactory(nil)
	m := newTestManager(t, factory, newFakeCredentials(), Options{AutoReply: AutoReply{
		Enabled:     true,
		Keyword:     "Urgence",
		KeywordText: "Call 112",
		DefaultText: "I'm just a bot, please contact a human.",
	}})
	_, err := m.Login(context.Background(), "u1")
	require.NoError(t, err)
	client := factory.last("u1")

	client.emit(MessageReceived{Chat: "120363000000000000@g.us", Text: "hello", IsGroup: true})
	client.emit(MessageReceived{Chat: "33612345678@s.whatsapp.net", Text: "urgence", FromMe: true})
	client.emit(MessageReceived{Chat: "33612345678@s.whatsapp.net", Text: " urgence "})

	require.Eventually(t, func() bool { return len(client.Sent()) == 1 }, waitFor, tick)
	assert.Equal(t, sentMessage{Address: "33612345678@s.whatsapp.net", Body: "Call 112"}, client.Sent()[0])

	client.emit(MessageReceived{Chat: "4915112345678@s.whatsapp.net", Text: "hi"})
	require.Eventually(t, func() bool { return len(client.Sent()) == 2 }, waitFor, tick)
	assert.Equal(t, "I'm just a bot, please contact a human.", client.Sent()[1].Body)
}

func TestAutoReplyDisabled(t *testing.T) {
	reply, ok := AutoReply{}.Reply("Urgence")
	assert.False(t, ok)
	assert.Empty(t, reply)
}

func TestHealthCheckReconnectsSilentDrops(t *testing.T) {
	factory := newFakeFactory(nil)
	m := newTestManager(t, factory, newFakeCredentials(), Options{})
	_, err := m.Login(context.Background(), "u1")
	require.NoError(t, err)
	_, err = m.Login(context.Background(), "u2")
	require.NoError(t, err)

	dropped := factory.last("u2")
	dropped.Disconnect()

	report := m.HealthCheck(context.Background())
	assert.Equal(t, HealthReport{Total: 2, Healthy: 1, Unhealthy: 1}, report)

	require.Eventually(t, func() bool {
		info, _ := m.Status("u2")
		return dropped.Connects() == 2 && info.Status == StatusConnected
	}, waitFor, tick)
}

func TestHealthCheckRecoversStalledReconnect(t *testing.T) {
	factory := newFakeFactory(nil)
	m := newTestManager(t, factory, newFakeCredentials(), Options{})
	_, err := m.Login(context.Background(), "u1")
	require.NoError(t, err)
	sess, ok := m.Store().Get("u1")
	require.True(t, ok)

	// connects succeed but the client never reports an open connection
	client := factory.last("u1")
	client.update(func(c *fakeClient) {
		c.autoOpen = false
		c.loggedIn = false
	})
	client.emit(ConnectionClosed{Cause: CauseConnectionLost})
	require.Eventually(t, func() bool {
		return client.Connects() == 2 && !sess.reconnectRunning()
	}, waitFor, tick)
	assert.Equal(t, StatusReconnecting, sess.Status())

	report := m.HealthCheck(context.Background())
	assert.Equal(t, HealthReport{Total: 1, Unhealthy: 1}, report)
	require.Eventually(t, func() bool {
		return client.Connects() == 3 && !sess.reconnectRunning()
	}, waitFor, tick)

	client.update(func(c *fakeClient) { c.loggedIn = true })
	report = m.HealthCheck(context.Background())
	assert.Equal(t, HealthReport{Total: 1, Healthy: 1}, report)
	assert.Equal(t, StatusConnected, sess.Status())
}

func TestShutdownDisconnectsClients(t *testing.T) {
	factory := newFakeFactory(nil)
	m := NewManager(NewStore(), factory, newFakeCredentials(), Options{Retry: fastRetry(3)})
	_, err := m.Login(context.Background(), "u1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
	assert.Equal(t, 1, factory.last("u1").Disconnects())
}

func TestLoginSendLogoutFlow(t *testing.T) {
	factory := newFakeFactory(func(c *fakeClient) { c.autoOpen = false })
	creds := newFakeCredentials()
	m := newTestManager(t, factory, creds, Options{})

	_, err := m.Login(context.Background(), "u1")
	require.NoError(t, err)
	client := factory.last("u1")
	client.emit(ConnectionOpened{})

	results, err := m.Send(context.Background(), "u1", []string{"33612345678"}, "hi")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []sentMessage{{Address: "33612345678@s.whatsapp.net", Body: "hi"}}, client.Sent())

	require.NoError(t, m.Logout(context.Background(), "u1"))
	_, ok := m.Store().Get("u1")
	assert.False(t, ok)
	assert.False(t, creds.has("u1"))
}

func TestLogoutWhileCreatingClientDisconnectsIt(t *testing.T) {
	factory := newFakeFactory(nil)
	factory.gate = make(chan struct{})
	factory.entered = make(chan struct{}, 1)
	creds := newFakeCredentials("u1")
	m := newTestManager(t, factory, creds, Options{})

	errs := make(chan error, 1)
	go func() {
		_, err := m.Login(context.Background(), "u1")
		errs <- err
	}()
	<-factory.entered

	require.NoError(t, m.Logout(context.Background(), "u1"))
	close(factory.gate)

	err := <-errs
	require.ErrorIs(t, err, ErrNotFound)
	client := factory.last("u1")
	require.NotNil(t, client)
	assert.Equal(t, 0, client.Connects())
	assert.Equal(t, 1, client.Disconnects())
	assert.False(t, client.IsConnected())
	assert.Equal(t, 0, m.Store().Len())
	assert.False(t, creds.has("u1"))
}

func TestLogoutWhileLoginConnectsDisconnectsClient(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	factory := newFakeFactory(func(c *fakeClient) {
		c.connectGate = gate
		c.connectEntered = entered
	})
	creds := newFakeCredentials("u1")
	m := newTestManager(t, factory, creds, Options{})

	errs := make(chan error, 1)
	go func() {
		_, err := m.Login(context.Background(), "u1")
		errs <- err
	}()
	<-entered

	require.NoError(t, m.Logout(context.Background(), "u1"))
	close(gate)

	err := <-errs
	require.ErrorIs(t, err, ErrNotFound)
	client := factory.last("u1")
	assert.Equal(t, 1, client.Connects())
	assert.False(t, client.IsConnected())
	assert.GreaterOrEqual(t, client.Disconnects(), 1)
	assert.Equal(t, 0, m.Store().Len())
	assert.False(t, creds.has("u1"))
}

func TestLogoutWhileReconnectingDisconnectsClient(t *testing.T) {
	factory := newFakeFactory(nil)
	creds := newFakeCredentials("u1")
	m := newTestManager(t, factory, creds, Options{})
	_, err := m.Login(context.Background(), "u1")
	require.NoError(t, err)
	sess, ok := m.Store().Get("u1")
	require.True(t, ok)
	client := factory.last("u1")

	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	client.update(func(c *fakeClient) {
		c.connectGate = gate
		c.connectEntered = entered
	})
	client.emit(ConnectionClosed{Cause: CauseConnectionLost})
	<-entered

	require.NoError(t, m.Logout(context.Background(), "u1"))
	close(gate)

	require.Eventually(t, func() bool {
		return !sess.reconnectRunning() && client.Connects() == 2
	}, waitFor, tick)
	assert.False(t, client.IsConnected())
	assert.GreaterOrEqual(t, client.Disconnects(), 1)
	assert.Equal(t, StatusLoggedOut, sess.Status())
	assert.Equal(t, 0, m.Store().Len())
	assert.False(t, creds.has("u1"))
}

func TestLogoutOfFailedSessionReconnectsToUnlinkDevice(t *testing.T) {
	factory := newFakeFactory(func(c *fakeClient) {
		c.connectErrs = []error{nil, errBoom, errBoom, errBoom, nil}
	})
	creds := newFakeCredentials("u1")
	m := newTestManager(t, factory, creds, Options{Retry: fastRetry(3)})
	_, err := m.Login(context.Background(), "u1")
	require.NoError(t, err)
	client := factory.last("u1")

	client.emit(ConnectionClosed{Cause: CauseConnectionLost})
	require.Eventually(t, func() bool {
		info, err := m.Status("u1")
		return err == nil && info.Status == StatusFailed
	}, waitFor, tick)
	require.False(t, client.IsConnected())

	require.NoError(t, m.Logout(context.Background(), "u1"))
	assert.Equal(t, 5, client.Connects())
	assert.Equal(t, 1, client.LogoutsConnected(), "logout is sent over a live connection")
	assert.False(t, creds.has("u1"))
	assert.Equal(t, 0, m.Store().Len())
}
