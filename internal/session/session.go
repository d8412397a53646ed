package session

import (
	"context"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/gofiber/fiber/v2"

	typWhatsApp "github.com/gdbrns/go-whatsapp-multi-user-gateway/internal/types"
	"github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/router"
	pkgSession "github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/session"
	pkgWhatsApp "github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/whatsapp"
)

// Controller exposes the per-user session endpoints.
type Controller struct {
	manager *pkgSession.Manager
}

func New(manager *pkgSession.Manager) *Controller {
	return &Controller{manager: manager}
}

func userContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

func writeError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, pkgSession.ErrValidation):
		return router.ResponseBadRequest(c, err.Error())
	case errors.Is(err, pkgSession.ErrConflict):
		return router.ResponseConflict(c, err.Error())
	case errors.Is(err, pkgSession.ErrNotFound):
		return router.ResponseNotFound(c, err.Error())
	case errors.Is(err, pkgSession.ErrNotConnected):
		return router.ResponseConflict(c, err.Error())
	default:
		return router.ResponseInternalError(c, err.Error())
	}
}

// Login
// @Summary     Start a WhatsApp session
// @Description Creates the session of a user and starts the handshake. The QR code is printed to the console and served by /qr/{userId}
// @Tags        Session
// @Produce     json
// @Param       userId path string true "User ID"
// @Success     200
// @Failure     400
// @Failure     409
// @Failure     500
// @Router      /login/{userId} [post]
func (ctl *Controller) Login(c *fiber.Ctx) error {
	info, err := ctl.manager.Login(userContext(c), router.UserID(c))
	if err != nil {
		return writeError(c, err)
	}
	return router.ResponseSuccessWithData(c, "Login process started. Scan the QR code.", info)
}

// Send
// @Summary     Send a text message
// @Description Sends the same text to every recipient and reports one result per recipient
// @Tags        Session
// @Accept      json
// @Produce     json
// @Param       userId path string true "User ID"
// @Param       body body typWhatsApp.RequestSend true "Recipients and message"
// @Success     200 {object} typWhatsApp.ResponseSend
// @Success     207 {object} typWhatsApp.ResponseSend
// @Failure     400
// @Failure     404
// @Failure     409
// @Failure     500 {object} typWhatsApp.ResponseSend
// @Router      /send/{userId} [post]
func (ctl *Controller) Send(c *fiber.Ctx) error {
	var reqSend typWhatsApp.RequestSend
	if err := c.BodyParser(&reqSend); err != nil {
		return router.ResponseBadRequest(c, "Failed parse body request")
	}

	results, err := ctl.manager.Send(userContext(c), router.UserID(c), reqSend.Destinataires, reqSend.Message)
	resSend := typWhatsApp.ResponseSend{Results: results}

	switch {
	case err == nil:
		return router.ResponseSuccessWithData(c, "Messages sent successfully", resSend)
	case errors.Is(err, pkgSession.ErrPartialDispatch):
		return router.ResponseMultiStatus(c, err.Error(), resSend)
	case errors.Is(err, pkgSession.ErrDispatch):
		return router.ResponseInternalErrorWithData(c, "Failed to send messages", resSend)
	default:
		return writeError(c, err)
	}
}

// Logout
// @Summary     Log out a WhatsApp session
// @Description Invalidates the device, removes the session and deletes its credentials
// @Tags        Session
// @Produce     json
// @Param       userId path string true "User ID"
// @Success     200
// @Failure     404
// @Failure     500
// @Router      /logout/{userId} [post]
func (ctl *Controller) Logout(c *fiber.Ctx) error {
	if err := ctl.manager.Logout(userContext(c), router.UserID(c)); err != nil {
		return writeError(c, err)
	}
	return router.ResponseSuccess(c, "Logged out successfully")
}

// Status
// @Summary     Show a session
// @Tags        Session
// @Produce     json
// @Param       userId path string true "User ID"
// @Success     200
// @Failure     404
// @Router      /status/{userId} [get]
func (ctl *Controller) Status(c *fiber.Ctx) error {
	info, err := ctl.manager.Status(router.UserID(c))
	if err != nil {
		return writeError(c, err)
	}
	return router.ResponseSuccessWithData(c, "Success get session status", info)
}

// QR
// @Summary     Show the pending QR code
// @Description Returns the pending pairing QR code as a PNG data URL, or an HTML page with output=html
// @Tags        Session
// @Produce     json,html
// @Param       userId path string true "User ID"
// @Param       output query string false "json or html"
// @Success     200 {object} typWhatsApp.ResponseQR
// @Failure     404
// @Router      /qr/{userId} [get]
func (ctl *Controller) QR(c *fiber.Ctx) error {
	qr, err := ctl.manager.QR(router.UserID(c))
	if err != nil {
		return writeError(c, err)
	}

	image, err := pkgWhatsApp.QRDataURL(qr.Code)
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	resQR := typWhatsApp.ResponseQR{
		QRCode:  image,
		Code:    qr.Code,
		Timeout: int(qr.Timeout.Seconds()),
	}

	if c.Query("output") == "html" {
		htmlContent := `
		<html>
			<head>
				<title>WhatsApp Login</title>
				<meta name="viewport" content="width=device-width, initial-scale=1, shrink-to-fit=no" />
			</head>
			<body>
				<img src="` + resQR.QRCode + `" />
				<p>
					<b>QR Code Scan</b>
					<br/>
					Timeout in ` + strconv.Itoa(resQR.Timeout) + ` Second(s)
				</p>
			</body>
		</html>
		`
		return router.ResponseSuccessWithHTML(c, htmlContent)
	}

	return router.ResponseSuccessWithData(c, "Success get QR code", resQR)
}
