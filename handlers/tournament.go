package handlers

import (
	"errors"

	"tournament-settlement-system/middleware"
	"tournament-settlement-system/models"
	"tournament-settlement-system/services"
	"tournament-settlement-system/workers"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

func SetupTournamentRoutes(app *fiber.App, tournamentService *services.TournamentService) {
	// 🔓 Read-only routes
	app.Get("/tournaments/:id", tournamentService.GetTournamentByID)
	app.Get("/tournaments/:id/settlement", tournamentService.GetSettlementEndpoint)
	app.Get("/tournaments/:id/escrow", escrowMirrorHandler(tournamentService.DB))

	// 🔒 Admin-only routes
	app.Post("/tournaments", middleware.WalletContextMiddleware(), middleware.AdminOnly(), tournamentService.RegisterTournamentEndpoint)
	admin := app.Group("/admin", middleware.WalletContextMiddleware(), middleware.AdminOnly())
	admin.Post("/tournaments/:id/activate", tournamentService.ActivateTournamentEndpoint)
	admin.Post("/tournaments/:id/conclude", tournamentService.ConcludeTournamentEndpoint)
}

// escrowMirrorHandler serves the mirrored escrow snapshot of a tournament.
func escrowMirrorHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var t models.Tournament
		if err := db.First(&t, "id = ?", c.Params("id")).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "tournament not found"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
		}
		row, ok, err := workers.GetMirrorByAddress(db, t.Address)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
		}
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "escrow not mirrored yet"})
		}
		return c.JSON(row)
	}
}
