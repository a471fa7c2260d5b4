package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RequireAdmin ensures the authenticated user has the admin role.
// Apply it after the JWT middleware, which sets user_role.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, ok := c.Get("user_id").(string); !ok {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error":   "unauthorized",
					"message": "Authentication required",
				})
			}

			role, _ := c.Get("user_role").(string)
			if role != "admin" {
				return c.JSON(http.StatusForbidden, map[string]interface{}{
					"error":   "insufficient_permissions",
					"message": "Admin access required",
					"details": map[string]interface{}{
						"required_role": "admin",
						"current_role":  role,
					},
				})
			}

			return next(c)
		}
	}
}
