package whatsapp

import (
	"strings"

	"github.com/cockroachdb/errors"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/session"
)

// keepAliveFailureThreshold is the number of consecutive failed keepalives
// after which the socket is considered lost.
const keepAliveFailureThreshold = 3

var (
	errDisconnected     = errors.New("websocket disconnected")
	errStreamReplaced   = errors.New("stream replaced by another connection")
	errKeepAliveTimeout = errors.New("keepalive timed out")
	errClientOutdated   = errors.New("whatsapp client version is outdated")
	errTemporaryBan     = errors.New("account temporarily banned")
)

// translate maps a whatsmeow event to a session event. The second result
// is false for events the session layer does not care about.
func translate(evt interface{}) (interface{}, bool) {
	switch e := evt.(type) {
	case *events.Connected:
		return session.ConnectionOpened{}, true
	case *events.Disconnected:
		return session.ConnectionClosed{Cause: session.CauseConnectionLost, Err: errDisconnected}, true
	case *events.LoggedOut:
		return session.ConnectionClosed{Cause: session.CauseLoggedOut, Err: errors.Newf("logged out: %s", e.Reason)}, true
	case *events.StreamReplaced:
		return session.ConnectionClosed{Cause: session.CauseStreamReplaced, Err: errStreamReplaced}, true
	case *events.KeepAliveTimeout:
		if e.ErrorCount != keepAliveFailureThreshold {
			return nil, false
		}
		return session.ConnectionClosed{Cause: session.CauseKeepAliveTimeout, Err: errKeepAliveTimeout}, true
	case *events.ConnectFailure:
		if e.Reason.IsLoggedOut() {
			return session.ConnectionClosed{Cause: session.CauseLoggedOut, Err: errors.Newf("logged out: %s", e.Reason)}, true
		}
		return session.ConnectionClosed{Cause: session.CauseConnectFailure, Err: errors.Newf("connect failure: %s %s", e.Reason, e.Message)}, true
	case *events.ClientOutdated:
		return session.ConnectionClosed{Cause: session.CauseConnectFailure, Err: errClientOutdated}, true
	case *events.TemporaryBan:
		return session.ConnectionClosed{Cause: session.CauseConnectFailure, Err: errors.Wrapf(errTemporaryBan, "%s", e.String())}, true
	case *events.PairSuccess:
		return session.CredentialsUpdated{Account: e.ID.String()}, true
	case *events.Message:
		text := messageText(e)
		if text == "" {
			return nil, false
		}
		return session.MessageReceived{
			Chat:    e.Info.Chat.String(),
			Sender:  e.Info.Sender.String(),
			Text:    text,
			FromMe:  e.Info.IsFromMe,
			IsGroup: e.Info.IsGroup,
		}, true
	}
	return nil, false
}

func messageText(e *events.Message) string {
	if e.Message == nil {
		return ""
	}
	if text := e.Message.GetConversation(); text != "" {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(e.Message.GetExtendedTextMessage().GetText())
}
