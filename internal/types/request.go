package types

import (
	"time"

	"github.com/gdbrns/go-whatsapp-multi-user-gateway/internal/webhook"
	"github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/session"
	"github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/whatsapp"
)

type RequestSend struct {
	Destinataires []string `json:"destinataires"`
	Message       string   `json:"message"`
}

type ResponseSend struct {
	Results []session.Result `json:"results"`
}

type ResponseQR struct {
	QRCode  string `json:"qr_code"`
	Code    string `json:"code"`
	Timeout int    `json:"timeout"`
}

type ResponseToken struct {
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ResponseSessions struct {
	Total    int            `json:"total"`
	Sessions []session.Info `json:"sessions"`
}

type ResponseHealth struct {
	Total     int                    `json:"total"`
	ByStatus  map[session.Status]int `json:"by_status"`
	WAVersion whatsapp.VersionStatus `json:"wa_version"`
	Webhooks  *webhook.Stats         `json:"webhooks,omitempty"`
}

type ResponseVersionRefresh struct {
	Refreshed bool                   `json:"refreshed"`
	Status    whatsapp.VersionStatus `json:"status"`
}
