package internal

import (
	"github.com/gofiber/fiber/v2"
	swagger "github.com/gofiber/swagger"

	"github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/auth"
	"github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/router"

	ctlAdmin "github.com/gdbrns/go-whatsapp-multi-user-gateway/internal/admin"
	ctlIndex "github.com/gdbrns/go-whatsapp-multi-user-gateway/internal/index"
	ctlSession "github.com/gdbrns/go-whatsapp-multi-user-gateway/internal/session"
)

// Controllers groups the handlers mounted by Routes.
type Controllers struct {
	Session *ctlSession.Controller
	Admin   *ctlAdmin.Controller
}

func Routes(app *fiber.App, ctl Controllers) {
	// Configure OpenAPI / Swagger
	specURL := router.BaseURL + "/docs/swagger.json"
	swaggerHandler := swagger.New(swagger.Config{
		URL: specURL,
	})

	// Route for Index
	// ---------------------------------------------
	if router.BaseURL == "" {
		app.Get("/", ctlIndex.Index)
	} else {
		app.Get(router.BaseURL, ctlIndex.Index)
		app.Get(router.BaseURL+"/", ctlIndex.Index)
	}

	// Route for OpenAPI / Swagger
	// ---------------------------------------------
	docs := app.Group(router.BaseURL+"/docs", router.HttpCacheInMemory(router.CacheTTLSeconds))
	docs.Get("/swagger.json", func(c *fiber.Ctx) error {
		return c.SendFile("docs/swagger.json")
	})
	docs.Get("/*", swaggerHandler)

	// Route for Sessions
	// ---------------------------------------------
	sessionAuth := auth.SessionAuth()

	app.Post(router.BaseURL+"/login/:userId", sessionAuth, ctl.Session.Login)
	app.Post(router.BaseURL+"/send/:userId", sessionAuth, ctl.Session.Send)
	app.Post(router.BaseURL+"/logout/:userId", sessionAuth, ctl.Session.Logout)
	app.Get(router.BaseURL+"/status/:userId", sessionAuth, ctl.Session.Status)
	app.Get(router.BaseURL+"/qr/:userId", sessionAuth, ctl.Session.QR)

	// Route for Admin (X-Admin-Secret authentication)
	// ---------------------------------------------
	admin := app.Group(router.BaseURL+"/admin", auth.AdminAuth())

	admin.Get("/sessions", ctl.Admin.ListSessions)
	admin.Post("/sessions/:userId/token", ctl.Admin.IssueToken)
	admin.Get("/health", ctl.Admin.Health)
	admin.Get("/whatsapp/version", ctl.Admin.Version)
	admin.Post("/whatsapp/version/refresh", ctl.Admin.RefreshVersion)
}
