package router

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/log"
)

type Response struct {
	Status  bool        `json:"status"`
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func logSuccess(c *fiber.Ctx, code int, message string) {
	statusMessage := http.StatusText(code)

	if statusMessage == message || c.OriginalURL() == BaseURL {
		log.Print(c).Info(fmt.Sprintf("%d %v", code, statusMessage))
	} else {
		log.Print(c).Info(fmt.Sprintf("%d %v", code, message))
	}
}

func logError(c *fiber.Ctx, code int, message string) {
	statusMessage := http.StatusText(code)
	entry := log.Print(c)

	switch {
	case code >= http.StatusInternalServerError && statusMessage == message:
		entry.Error(fmt.Sprintf("%d %v", code, statusMessage))
	case code >= http.StatusInternalServerError:
		entry.Error(fmt.Sprintf("%d %v", code, message))
	case statusMessage == message:
		entry.Warn(fmt.Sprintf("%d %v", code, statusMessage))
	default:
		entry.Warn(fmt.Sprintf("%d %v", code, message))
	}
}

func respond(c *fiber.Ctx, code int, message string, data interface{}) error {
	if strings.TrimSpace(message) == "" {
		message = http.StatusText(code)
	}
	response := Response{
		Status:  code < http.StatusBadRequest,
		Code:    code,
		Message: message,
		Data:    data,
	}
	if response.Status {
		logSuccess(c, code, message)
	} else {
		response.Error = message
		logError(c, code, message)
	}
	return c.Status(code).JSON(response)
}

func ResponseSuccess(c *fiber.Ctx, message string) error {
	return respond(c, http.StatusOK, message, nil)
}

func ResponseSuccessWithData(c *fiber.Ctx, message string, data interface{}) error {
	return respond(c, http.StatusOK, message, data)
}

func ResponseSuccessWithHTML(c *fiber.Ctx, html string) error {
	logSuccess(c, http.StatusOK, http.StatusText(http.StatusOK))
	c.Type("html", "utf-8")
	return c.Status(http.StatusOK).SendString(html)
}

// ResponseMultiStatus reports a request whose items succeeded only in part.
func ResponseMultiStatus(c *fiber.Ctx, message string, data interface{}) error {
	return respond(c, http.StatusMultiStatus, message, data)
}

func ResponseNotFound(c *fiber.Ctx, message string) error {
	return respond(c, http.StatusNotFound, message, nil)
}

func ResponseUnauthorized(c *fiber.Ctx, message string) error {
	return respond(c, http.StatusUnauthorized, message, nil)
}

func ResponseBadRequest(c *fiber.Ctx, message string) error {
	return respond(c, http.StatusBadRequest, message, nil)
}

func ResponseConflict(c *fiber.Ctx, message string) error {
	return respond(c, http.StatusConflict, message, nil)
}

func ResponseInternalError(c *fiber.Ctx, message string) error {
	return respond(c, http.StatusInternalServerError, message, nil)
}

// ResponseInternalErrorWithData keeps per item details on a failed request.
func ResponseInternalErrorWithData(c *fiber.Ctx, message string, data interface{}) error {
	return respond(c, http.StatusInternalServerError, message, data)
}

func ResponseBadGateway(c *fiber.Ctx, message string) error {
	return respond(c, http.StatusBadGateway, message, nil)
}

func ResponseNoContent(c *fiber.Ctx) error {
	return c.SendStatus(http.StatusNoContent)
}
