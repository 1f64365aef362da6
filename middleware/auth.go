// middleware/auth.go
package middleware

import (
	"log"
	"strings"

	"tournament-settlement-system/chain"
	"tournament-settlement-system/services"

	"github.com/gofiber/fiber/v2"
)

// WalletContextMiddleware reads the wallet identity the gateway derived from
// the caller's signed login and exposes it to handlers.
func WalletContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		wallet := strings.TrimSpace(c.Get("X-Wallet-Address"))
		if wallet == "" {
			log.Printf("❌ [USER_CTX] X-Wallet-Address missing on %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-Wallet-Address — request must come through gateway with auth context",
			})
		}
		if _, err := chain.ParsePublicKey(wallet); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "X-Wallet-Address is not a valid address"})
		}

		c.Locals(services.WalletLocalKey, wallet)
		c.Locals("user_roles", parseRoles(c.Get("X-User-Roles")))
		return c.Next()
	}
}

// AdminOnly rejects requests whose gateway roles do not include admin.
func AdminOnly() fiber.Handler {
	return func(c *fiber.Ctx) error {
		for _, r := range parseRoles(c.Get("X-User-Roles")) {
			if r == "admin" {
				return c.Next()
			}
		}
		log.Printf("🚫 [USER_CTX] Admin role required for %s", c.Path())
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "admin role required"})
	}
}

func parseRoles(raw string) []string {
	var roles []string
	for _, r := range strings.Split(raw, ",") {
		r = strings.TrimSpace(r)
		if r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}
