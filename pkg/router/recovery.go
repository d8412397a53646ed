package router

import (
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/log"
)

// RecoveryMiddleware turns a panic into a 500 envelope. It must be
// registered before the routes.
func RecoveryMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				message := fmt.Sprintf("%v", rec)
				log.Print(c).WithField("panic", message).Error("Panic recovered")
				err = c.Status(http.StatusInternalServerError).JSON(Response{
					Status:  false,
					Code:    http.StatusInternalServerError,
					Message: http.StatusText(http.StatusInternalServerError),
					Error:   message,
				})
			}
		}()
		return c.Next()
	}
}
