package services

import (
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// WalletLocalKey is where middleware stores the caller's wallet address.
const WalletLocalKey = "wallet_address"

func walletFrom(c *fiber.Ctx) string {
	w, _ := c.Locals(WalletLocalKey).(string)
	return w
}

// CreatePaymentTemplateEndpoint issues an unsigned entry payment for the caller's wallet.
func (s *PaymentService) CreatePaymentTemplateEndpoint(c *fiber.Ctx) error {
	var body struct {
		TournamentAddress string `json:"tournament_address"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	wallet := walletFrom(c)
	if wallet == "" || strings.TrimSpace(body.TournamentAddress) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "tournament_address and wallet are required"})
	}

	template, err := s.CreatePaymentTemplate(c.UserContext(), strings.TrimSpace(body.TournamentAddress), wallet)
	switch {
	case errors.Is(err, ErrTournamentNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ErrTournamentNotActive):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case err != nil:
		log.Printf("❌ [VERIFY] Template for %s on %s failed: %v", wallet, body.TournamentAddress, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(template)
}

// VerifyPaymentEndpoint confirms a signed payment. A proof presented by a
// wallet other than the one the template was issued to is rejected with 403.
func (s *PaymentService) VerifyPaymentEndpoint(c *fiber.Ctx) error {
	var body struct {
		Signature     string `json:"signature"`
		TransactionID string `json:"transaction_id"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if body.Signature == "" || body.TransactionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "signature and transaction_id are required"})
	}

	ok, err := s.VerifyPayment(c.UserContext(), body.Signature, body.TransactionID, walletFrom(c))
	if err != nil {
		if errors.Is(err, ErrAuthorizationMismatch) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "payment does not belong to this wallet"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "verification failed"})
	}
	if !ok {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"verified": false,
			"error":    "invalid transaction, please retry the payment",
		})
	}
	return c.JSON(fiber.Map{"verified": true, "transaction_id": body.TransactionID})
}
