package router

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/env"
)

var BaseURL, CORSOrigin, BodyLimit string
var GZipLevel int
var CacheTTLSeconds int
var bodyLimitBytes int

func init() {
	BaseURL = normalizeBaseURL(env.GetEnvStringOrDefault("HTTP_BASE_URL", ""))
	CORSOrigin = env.GetEnvStringOrDefault("HTTP_CORS_ORIGIN", "*")

	BodyLimit = env.GetEnvStringOrDefault("HTTP_BODY_LIMIT_SIZE", "1M")
	bodyLimitBytes = parseBodyLimit(BodyLimit)

	GZipLevel = env.GetEnvIntOrDefault("HTTP_GZIP_LEVEL", 1)
	CacheTTLSeconds = env.GetEnvIntOrDefault("HTTP_CACHE_TTL_SECONDS", 5)
}

func BodyLimitBytes() int {
	return bodyLimitBytes
}

// AppConfig is the fiber configuration shared by the server and its tests.
// Immutable keeps route params valid after the request buffer is reused.
func AppConfig() fiber.Config {
	return fiber.Config{
		ErrorHandler:   HttpErrorHandler,
		BodyLimit:      BodyLimitBytes(),
		ReadBufferSize: 8192, // Increase from default 4096 to handle larger headers (JWT tokens)
		Immutable:      true,
	}
}

// UserID returns a copy of the userId route param that outlives the request.
func UserID(c *fiber.Ctx) string {
	return utils.CopyString(c.Params("userId"))
}

// normalizeBaseURL returns "" or a prefix like "/api" without a trailing slash.
func normalizeBaseURL(raw string) string {
	raw = strings.Trim(strings.TrimSpace(raw), "/")
	if raw == "" {
		return ""
	}
	return "/" + raw
}

func parseBodyLimit(limit string) int {
	const defaultLimit = 1024 * 1024
	limit = strings.TrimSpace(strings.ToUpper(limit))
	if limit == "" {
		return defaultLimit
	}
	multiplier := 1
	switch {
	case strings.HasSuffix(limit, "K"):
		multiplier = 1024
		limit = strings.TrimSuffix(limit, "K")
	case strings.HasSuffix(limit, "M"):
		multiplier = 1024 * 1024
		limit = strings.TrimSuffix(limit, "M")
	case strings.HasSuffix(limit, "G"):
		multiplier = 1024 * 1024 * 1024
		limit = strings.TrimSuffix(limit, "G")
	}
	value, err := strconv.Atoi(strings.TrimSpace(limit))
	if err != nil || value <= 0 {
		return defaultLimit
	}
	return value * multiplier
}
