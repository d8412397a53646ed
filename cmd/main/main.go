package main

// @title Go WhatsApp Multi-User Gateway
// @version 1.0.0
// @description Multi-user WhatsApp gateway: one WhatsApp session per user ID with login by QR code, text messaging and logout

// @contact.name gdbrns
// @contact.url https://github.com/gdbrns/go-whatsapp-multi-user-gateway

// @license.name MIT
// @license.url https://github.com/gdbrns/go-whatsapp-multi-user-gateway/blob/main/LICENSE

// @host localhost:3000
// @BasePath /

// @securityDefinitions.apikey AdminAuth
// @in header
// @name X-Admin-Secret
// @description Admin secret key for the /admin routes

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT Bearer token whose subject is the user ID, required when HTTP_AUTH_JWT_SECRET is set

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	cron "github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"

	"github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/env"
	"github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/log"
	"github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/router"
	"github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/session"
	pkgWhatsApp "github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/whatsapp"

	"github.com/gdbrns/go-whatsapp-multi-user-gateway/internal"
	ctlAdmin "github.com/gdbrns/go-whatsapp-multi-user-gateway/internal/admin"
	ctlSession "github.com/gdbrns/go-whatsapp-multi-user-gateway/internal/session"
	"github.com/gdbrns/go-whatsapp-multi-user-gateway/internal/webhook"
)

type Server struct {
	Address string
	Port    string
}

func retryPolicyFromEnv() session.RetryPolicy {
	def := session.DefaultRetryPolicy()
	return session.RetryPolicy{
		MaxAttempts:    env.GetEnvIntOrDefault("WHATSAPP_RECONNECT_MAX_ATTEMPTS", def.MaxAttempts, 1),
		BaseDelay:      env.GetEnvDurationOrDefault("WHATSAPP_RECONNECT_BACKOFF_BASE", def.BaseDelay),
		MaxDelay:       env.GetEnvDurationOrDefault("WHATSAPP_RECONNECT_BACKOFF_MAX", def.MaxDelay),
		Jitter:         env.GetEnvDurationOrDefault("WHATSAPP_RECONNECT_JITTER_MAX", def.Jitter),
		ConnectTimeout: env.GetEnvDurationOrDefault("WHATSAPP_CONNECT_TIMEOUT", def.ConnectTimeout),
	}
}

func sendRateFromEnv() rate.Limit {
	perSecond := env.GetEnvFloat64OrDefault("WHATSAPP_SEND_RATE_PER_SECOND", 0)
	if perSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSecond)
}

const defaultKeywordReply = "Call 112 is the single emergency calls number, available nationwide, which can be called from all public telephone networks. Calls are taken 24/7"

func autoReplyFromEnv() session.AutoReply {
	return session.AutoReply{
		Enabled:     env.GetEnvBoolOrDefault("WHATSAPP_AUTO_REPLY_ENABLED", false),
		Keyword:     env.GetEnvStringOrDefault("WHATSAPP_AUTO_REPLY_KEYWORD", "Urgence"),
		KeywordText: env.GetEnvStringOrDefault("WHATSAPP_AUTO_REPLY_KEYWORD_TEXT", defaultKeywordReply),
		DefaultText: env.GetEnvStringOrDefault("WHATSAPP_AUTO_REPLY_DEFAULT_TEXT", "I'm just a bot, please contact a human."),
	}
}

func webhookConfigFromEnv() webhook.Config {
	cfg := webhook.Config{
		Secret:     env.GetEnvStringOrDefault("WEBHOOK_SECRET", ""),
		Workers:    env.GetEnvIntOrDefault("WEBHOOK_WORKERS", 4, 1),
		RetryLimit: env.GetEnvIntOrDefault("WEBHOOK_RETRY_LIMIT", 3, 1),
	}
	if env.GetEnvBoolOrDefault("WEBHOOKS_ENABLED", true) {
		cfg.URLs = env.GetEnvStringSlice("WEBHOOK_URLS")
	}
	return cfg
}

func main() {
	var err error
	ctx := context.Background()

	// Intialize Cron
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DiscardLogger),
	), cron.WithSeconds())

	// Initialize WhatsApp Datastore
	datastore, err := pkgWhatsApp.OpenDatastore(ctx, pkgWhatsApp.DatastoreConfig{
		Type:    env.GetEnvStringOrDefault("WHATSAPP_DATASTORE_TYPE", "sqlite"),
		URI:     env.GetEnvStringOrDefault("WHATSAPP_DATASTORE_URI", ""),
		AuthDir: env.GetEnvStringOrDefault("WHATSAPP_AUTH_DIR", "./auth_states"),
	})
	if err != nil {
		log.Print(nil).Fatal("Failed to open WhatsApp datastore: " + err.Error())
	}

	provider := pkgWhatsApp.NewProvider(datastore, pkgWhatsApp.ProviderOptions{
		ProxyURL: env.GetEnvStringOrDefault("WHATSAPP_CLIENT_PROXY_URL", ""),
		PrintQR:  env.GetEnvBoolOrDefault("WHATSAPP_PRINT_QR_TERMINAL", true),
		Version: pkgWhatsApp.VersionOverride{
			Major: env.GetEnvIntOrDefault("WHATSAPP_VERSION_MAJOR", 0),
			Minor: env.GetEnvIntOrDefault("WHATSAPP_VERSION_MINOR", 0),
			Patch: env.GetEnvIntOrDefault("WHATSAPP_VERSION_PATCH", 0),
		},
	})

	// Initialize Webhook Delivery
	webhooks := webhook.NewEngine(webhookConfigFromEnv())

	// Initialize Session Manager
	manager := session.NewManager(session.NewStore(), provider, datastore, session.Options{
		Retry:     retryPolicyFromEnv(),
		SendRate:  sendRateFromEnv(),
		SendBurst: env.GetEnvIntOrDefault("WHATSAPP_SEND_BURST", 1, 1),
		AutoReply: autoReplyFromEnv(),
		Observer:  webhooks.Observe,

		LogoutGrace: env.GetEnvDurationOrDefault("WHATSAPP_LOGOUT_CLEANUP_DELAY", 2*time.Second),
	})

	// Initialize WhatsApp Web Version Refresher
	refresher := pkgWhatsApp.NewVersionRefresher(env.GetEnvDurationOrDefault("WHATSAPP_WAVERSION_REFRESH_MIN_INTERVAL", 10*time.Minute))
	if env.GetEnvBoolOrDefault("WHATSAPP_WAVERSION_REFRESH_ON_STARTUP", true) {
		refreshCtx, cancelRefresh := context.WithTimeout(ctx, 30*time.Second)
		if _, _, err := refresher.Refresh(refreshCtx, true); err != nil {
			log.Print(nil).Warn("Failed to refresh WA Web version, using built-in version: " + err.Error())
		}
		cancelRefresh()
	}

	// Initialize Fiber
	app := fiber.New(router.AppConfig())

	// Request ID + panic recovery (structured JSON)
	app.Use(router.HttpRequestID())
	app.Use(router.RecoveryMiddleware())

	// Router Compression
	app.Use(compress.New(compress.Config{
		Level: compress.Level(router.GZipLevel),
		Next: func(c *fiber.Ctx) bool {
			return strings.Contains(c.Path(), "docs")
		},
	}))

	// Router CORS
	app.Use(cors.New(cors.Config{
		AllowOrigins: router.CORSOrigin,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Admin-Secret, X-Request-ID",
		AllowMethods: "GET,POST",
	}))

	// Router Security
	app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
	}))

	// Router RealIP + request context enrichment
	app.Use(router.HttpRealIP())

	// Router Default Handler
	app.Get("/favicon.ico", router.ResponseNoContent)

	// Load Internal Routes
	internal.Routes(app, internal.Controllers{
		Session: ctlSession.New(manager),
		Admin:   ctlAdmin.New(manager, refresher, webhooks, env.GetEnvDurationOrDefault("HTTP_AUTH_JWT_TTL", 24*time.Hour)),
	})

	// Running Startup Tasks
	internal.Startup(ctx, manager, datastore, internal.StartupOptions{
		Concurrency: env.GetEnvIntOrDefault("WHATSAPP_STARTUP_RESTORE_CONCURRENCY", 10, 1),
		JitterMax:   env.GetEnvDurationOrDefault("WHATSAPP_STARTUP_RESTORE_JITTER_MAX", 5*time.Second),
	})

	// Running Routines Tasks
	internal.Routines(c, manager, refresher, internal.RoutineOptionsFromEnv())

	// Get Server Configuration with defaults
	var serverConfig Server

	// SERVER_ADDRESS: default "0.0.0.0" (all interfaces)
	serverConfig.Address = env.GetEnvStringOrDefault("SERVER_ADDRESS", "0.0.0.0")

	// PORT, then SERVER_PORT: default "3000"
	serverConfig.Port = env.GetEnvFirstOrDefault("3000", "PORT", "SERVER_PORT")

	// Start Server
	go func() {
		if err := app.Listen(serverConfig.Address + ":" + serverConfig.Port); err != nil {
			log.Print(nil).Fatal(err.Error())
		}
	}()

	// Watch for Shutdown Signal
	sigShutdown := make(chan os.Signal, 1)
	signal.Notify(sigShutdown, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-sigShutdown
	// Wait 5 Seconds Before Graceful Shutdown
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	// Try To Shutdown Server
	err = app.ShutdownWithContext(ctxShutdown)
	if err != nil {
		log.Print(nil).Error(err.Error())
	}

	// Try To Shutdown Cron
	<-c.Stop().Done()

	// Disconnect sessions, keeping credentials for the next start
	if err := manager.Shutdown(ctxShutdown); err != nil {
		log.Print(nil).Error("Failed to shutdown sessions: " + err.Error())
	}
	if err := webhooks.Shutdown(ctxShutdown); err != nil {
		log.Print(nil).Warn("Pending webhook deliveries dropped: " + err.Error())
	}
	if err := datastore.Close(); err != nil {
		log.Print(nil).Error("Failed to close WhatsApp datastore: " + err.Error())
	}
}
