package admin

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gofiber/fiber/v2"

	typWhatsApp "github.com/gdbrns/go-whatsapp-multi-user-gateway/internal/types"
	"github.com/gdbrns/go-whatsapp-multi-user-gateway/internal/webhook"
	"github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/auth"
	"github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/router"
	pkgSession "github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/session"
	"github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/validation"
	pkgWhatsApp "github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/whatsapp"
)

const defaultTokenTTL = 24 * time.Hour

// Controller serves the operator endpoints. Every route sits behind auth.AdminAuth.
type Controller struct {
	manager   *pkgSession.Manager
	refresher *pkgWhatsApp.VersionRefresher
	webhooks  *webhook.Engine
	tokenTTL  time.Duration
}

func New(manager *pkgSession.Manager, refresher *pkgWhatsApp.VersionRefresher, webhooks *webhook.Engine, tokenTTL time.Duration) *Controller {
	if tokenTTL <= 0 {
		tokenTTL = defaultTokenTTL
	}
	return &Controller{
		manager:   manager,
		refresher: refresher,
		webhooks:  webhooks,
		tokenTTL:  tokenTTL,
	}
}

// @Summary     List sessions
// @Tags        Admin
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Success     200 {object} typWhatsApp.ResponseSessions
// @Failure     401
// @Router      /admin/sessions [get]
func (ctl *Controller) ListSessions(c *fiber.Ctx) error {
	sessions := ctl.manager.Sessions()
	return router.ResponseSuccessWithData(c, "Success get session list", typWhatsApp.ResponseSessions{
		Total:    len(sessions),
		Sessions: sessions,
	})
}

// @Summary     Gateway health
// @Description Counts sessions by status and reports the WhatsApp Web version in use
// @Tags        Admin
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Success     200 {object} typWhatsApp.ResponseHealth
// @Failure     401
// @Router      /admin/health [get]
func (ctl *Controller) Health(c *fiber.Ctx) error {
	sessions := ctl.manager.Sessions()
	resHealth := typWhatsApp.ResponseHealth{
		Total:    len(sessions),
		ByStatus: make(map[pkgSession.Status]int),
	}
	for _, info := range sessions {
		resHealth.ByStatus[info.Status]++
	}
	if ctl.refresher != nil {
		resHealth.WAVersion = ctl.refresher.Status()
	}
	if ctl.webhooks != nil && ctl.webhooks.Enabled() {
		stats := ctl.webhooks.Stats()
		resHealth.Webhooks = &stats
	}
	return router.ResponseSuccessWithData(c, "Success get gateway health", resHealth)
}

// @Summary     Issue a session token
// @Description Signs a JWT whose subject is the user ID, for the per-user routes
// @Tags        Admin
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Param       userId path string true "User ID"
// @Success     200 {object} typWhatsApp.ResponseToken
// @Failure     400
// @Failure     401
// @Failure     500
// @Router      /admin/sessions/{userId}/token [post]
func (ctl *Controller) IssueToken(c *fiber.Ctx) error {
	userID := router.UserID(c)
	if err := validation.ValidateUserID(userID); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	token, expiresAt, err := auth.GenerateSessionToken(userID, ctl.tokenTTL)
	if err != nil {
		if errors.Is(err, auth.ErrAuthDisabled) {
			return router.ResponseInternalError(c, "Session authentication is not configured")
		}
		return router.ResponseInternalError(c, err.Error())
	}

	return router.ResponseSuccessWithData(c, "Success issue session token", typWhatsApp.ResponseToken{
		UserID:    userID,
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// @Summary     Show WhatsApp Web version
// @Tags        Admin
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Success     200
// @Failure     401
// @Router      /admin/whatsapp/version [get]
func (ctl *Controller) Version(c *fiber.Ctx) error {
	return router.ResponseSuccessWithData(c, "Success get WhatsApp Web version", ctl.refresher.Status())
}

// @Summary     Refresh WhatsApp Web version
// @Description Fetches the latest WhatsApp Web version. Without force the refresh is throttled
// @Tags        Admin
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret key"
// @Param       force query bool false "Bypass throttling"
// @Success     200 {object} typWhatsApp.ResponseVersionRefresh
// @Failure     401
// @Failure     502
// @Router      /admin/whatsapp/version/refresh [post]
func (ctl *Controller) RefreshVersion(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	force, _ := strconv.ParseBool(c.Query("force"))
	status, refreshed, err := ctl.refresher.Refresh(ctx, force)
	if err != nil {
		return router.ResponseBadGateway(c, "Failed to refresh WhatsApp Web version: "+err.Error())
	}

	return router.ResponseSuccessWithData(c, "Success refresh WhatsApp Web version", typWhatsApp.ResponseVersionRefresh{
		Refreshed: refreshed,
		Status:    status,
	})
}
