package handlers

import (
	"tournament-settlement-system/middleware"
	"tournament-settlement-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupPaymentRoutes(app *fiber.App, paymentService *services.PaymentService) {
	// 🔐 Wallet-scoped routes
	payments := app.Group("/payments", middleware.WalletContextMiddleware())
	payments.Post("/template", paymentService.CreatePaymentTemplateEndpoint)
	payments.Post("/verify", paymentService.VerifyPaymentEndpoint)
}
