package session

import (
	"context"
)

// Client is a connected protocol client owned by one session.
type Client interface {
	// Connect dials the server. ctx only bounds the dial; pairing and
	// connection state are reported through the EventHandler given to the Factory.
	Connect(ctx context.Context) error
	Disconnect()
	// Logout invalidates the device on the server side.
	Logout(ctx context.Context) error
	SendText(ctx context.Context, address string, body string) (string, error)
	IsConnected() bool
	IsLoggedIn() bool
}

type Factory interface {
	NewClient(ctx context.Context, userID string, handler EventHandler) (Client, error)
}

// Credentials persists the authentication state of each user.
type Credentials interface {
	Path(userID string) string
	Save(ctx context.Context, userID string, account string) error
	Delete(ctx context.Context, userID string) error
	List(ctx context.Context) ([]string, error)
}
