package whatsapp

import (
	"context"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/proto"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCompanionReg"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/log"
	"github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/session"
)

var errPairingTimeout = errors.New("qr code was not scanned in time")

// VersionOverride pins the WhatsApp Web version announced by new devices.
// Zero fields keep the library default.
type VersionOverride struct {
	Major int
	Minor int
	Patch int
}

type ProviderOptions struct {
	ProxyURL string
	PrintQR  bool
	QROutput io.Writer
	Version  VersionOverride
}

// Provider creates whatsmeow clients backed by a Datastore.
type Provider struct {
	datastore Datastore
	opts      ProviderOptions
}

func NewProvider(datastore Datastore, opts ProviderOptions) *Provider {
	if opts.QROutput == nil {
		opts.QROutput = os.Stdout
	}
	applyDeviceProps(opts.Version)
	return &Provider{datastore: datastore, opts: opts}
}

func applyDeviceProps(v VersionOverride) {
	store.DeviceProps.Os = proto.String(runtime.GOOS)
	store.DeviceProps.PlatformType = waCompanionReg.DeviceProps_CHROME.Enum()
	store.DeviceProps.RequireFullSync = proto.Bool(false)

	if store.DeviceProps.Version == nil {
		return
	}
	if v.Major > 0 {
		store.DeviceProps.Version.Primary = proto.Uint32(uint32(v.Major))
	}
	if v.Minor > 0 {
		store.DeviceProps.Version.Secondary = proto.Uint32(uint32(v.Minor))
	}
	if v.Patch > 0 {
		store.DeviceProps.Version.Tertiary = proto.Uint32(uint32(v.Patch))
	}
}

func (p *Provider) NewClient(ctx context.Context, userID string, handler session.EventHandler) (session.Client, error) {
	device, err := p.datastore.Device(ctx, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "load device of %s", userID)
	}

	entry := log.Session(userID)
	wa := whatsmeow.NewClient(device, NewLogger(entry, "Client"))
	if p.opts.ProxyURL != "" {
		if err := wa.SetProxyAddress(p.opts.ProxyURL); err != nil {
			return nil, errors.Wrapf(err, "set proxy for %s", userID)
		}
	}
	// Reconnection is driven by the session manager.
	wa.EnableAutoReconnect = false
	wa.AutoTrustIdentity = true

	c := &client{
		userID:  userID,
		wa:      wa,
		handler: handler,
		printQR: p.opts.PrintQR,
		qrOut:   p.opts.QROutput,
		log:     entry,
	}
	wa.AddEventHandler(c.handleEvent)
	return c, nil
}

type client struct {
	userID  string
	wa      *whatsmeow.Client
	handler session.EventHandler
	printQR bool
	qrOut   io.Writer
	log     *logrus.Entry

	mu       sync.Mutex
	qrCancel context.CancelFunc
}

func (c *client) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.KeepAliveTimeout:
		c.log.WithField("errors", e.ErrorCount).Warn("Keepalive timeout")
	case *events.Connected:
		c.log.Info("Client connected")
	case *events.Disconnected:
		c.log.Warn("Client disconnected")
	}
	if translated, ok := translate(evt); ok {
		c.handler(translated)
	}
}

// Connect dials the server. An unpaired device first opens a QR channel
// whose codes are forwarded as QRCode events.
func (c *client) Connect(ctx context.Context) error {
	c.stopQR()
	c.wa.Disconnect()

	if c.wa.Store.ID == nil {
		qrCtx, cancel := context.WithCancel(context.Background())
		qrChan, err := c.wa.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			return errors.Wrap(err, "open qr channel")
		}
		c.mu.Lock()
		c.qrCancel = cancel
		c.mu.Unlock()
		go c.consumeQR(qrChan)
	}

	done := make(chan error, 1)
	go func() {
		done <- c.wa.Connect()
	}()
	select {
	case err := <-done:
		if err != nil {
			c.stopQR()
		}
		return err
	case <-ctx.Done():
		c.stopQR()
		c.wa.Disconnect()
		return ctx.Err()
	}
}

func (c *client) consumeQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case "code":
			if c.printQR {
				c.log.Info("Scan the QR code below to link the account")
				PrintQR(c.qrOut, item.Code)
			}
			c.handler(session.QRCode{Code: item.Code, Timeout: item.Timeout})
		case whatsmeow.QRChannelSuccess.Event:
			c.log.Info("QR code scanned")
		case whatsmeow.QRChannelTimeout.Event:
			c.handler(session.ConnectionClosed{Cause: session.CausePairingTimeout, Err: errPairingTimeout})
		case whatsmeow.QRChannelClientOutdated.Event:
			c.handler(session.ConnectionClosed{Cause: session.CauseConnectFailure, Err: errClientOutdated})
		case whatsmeow.QRChannelErrUnexpectedEvent.Event, whatsmeow.QRChannelScannedWithoutMultidevice.Event:
			c.handler(session.ConnectionClosed{Cause: session.CauseConnectFailure, Err: errors.Newf("qr channel: %s", item.Event)})
		case "error":
			err := item.Error
			if err == nil {
				err = errors.New("qr channel reported an unspecified error")
			}
			c.handler(session.ConnectionClosed{Cause: session.CauseConnectFailure, Err: err})
		}
	}
}

func (c *client) stopQR() {
	c.mu.Lock()
	cancel := c.qrCancel
	c.qrCancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *client) Disconnect() {
	c.stopQR()
	c.wa.Disconnect()
}

func (c *client) Logout(ctx context.Context) error {
	c.stopQR()
	if c.wa.Store.ID == nil {
		c.wa.Disconnect()
		return nil
	}
	// A socket that was just reopened accepts the unlink request only once
	// the server confirmed the login.
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for c.wa.IsConnected() && !c.wa.IsLoggedIn() {
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "wait for login before logout")
		case <-ticker.C:
		}
	}
	return c.wa.Logout(ctx)
}

func (c *client) SendText(ctx context.Context, address string, body string) (string, error) {
	jid, err := types.ParseJID(address)
	if err != nil {
		return "", errors.Wrapf(err, "parse address %s", address)
	}
	extra := whatsmeow.SendRequestExtra{ID: c.wa.GenerateMessageID()}
	msg := &waE2E.Message{Conversation: proto.String(body)}
	if _, err := c.wa.SendMessage(ctx, jid, msg, extra); err != nil {
		return "", err
	}
	return extra.ID, nil
}

func (c *client) IsConnected() bool {
	return c.wa.IsConnected()
}

func (c *client) IsLoggedIn() bool {
	return c.wa.IsLoggedIn()
}
