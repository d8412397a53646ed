package auth

import (
	"github.com/gdbrns/go-whatsapp-multi-user-gateway/pkg/env"
)

// AdminSecretKey guards the /admin routes. Admin routes answer 500 when it is empty.
var AdminSecretKey string

// JWTSecretKey signs per user session tokens. Session routes are open when it is empty.
var JWTSecretKey string

func init() {
	AdminSecretKey = env.GetEnvStringOrDefault("ADMIN_SECRET_KEY", "")
	JWTSecretKey = env.GetEnvStringOrDefault("HTTP_AUTH_JWT_SECRET", "")
}
