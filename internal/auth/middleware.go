package auth

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type contextKey string

const contextKeyHostID contextKey = "host_id"

// SetHostID stores the Agent-authenticated host ID in the echo context.
func SetHostID(c echo.Context, hostID string) {
	c.Set(string(contextKeyHostID), hostID)
}

// GetHostID retrieves the host ID an AgentBearerMiddleware validated.
func GetHostID(c echo.Context) (string, bool) {
	v := c.Get(string(contextKeyHostID))
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

// AgentBearerMiddleware validates the Manager-issued bearer token an
// Agent requires on every privileged call, binding the request to the
// host ID the token was issued for.
func AgentBearerMiddleware(jwtIssuer *JWTIssuer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if jwtIssuer == nil {
				return next(c)
			}
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "missing or invalid Authorization header",
				})
			}
			claims, err := jwtIssuer.ValidateAgentToken(strings.TrimPrefix(authHeader, "Bearer "))
			if err != nil {
				return c.JSON(http.StatusForbidden, map[string]string{
					"error": "invalid token: " + err.Error(),
				})
			}
			SetHostID(c, claims.HostID)
			return next(c)
		}
	}
}

// ShellTokenMiddleware validates a shell-session token passed as the
// "token" query parameter (WebSocket clients can't set an Authorization
// header before the upgrade handshake), and checks it was scoped to the
// VM named by the :id URL parameter.
func ShellTokenMiddleware(jwtIssuer *JWTIssuer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr := c.QueryParam("token")
			if tokenStr == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "missing shell token",
				})
			}
			claims, err := jwtIssuer.ValidateShellToken(tokenStr)
			if err != nil {
				return c.JSON(http.StatusForbidden, map[string]string{
					"error": "invalid token: " + err.Error(),
				})
			}
			if claims.VMID != c.Param("id") {
				return c.JSON(http.StatusForbidden, map[string]string{
					"error": "token not valid for this vm",
				})
			}
			return next(c)
		}
	}
}
