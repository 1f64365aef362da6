package services

import (
	"errors"
	"log"

	"tournament-settlement-system/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

func (s *TournamentService) RegisterTournamentEndpoint(c *fiber.Ctx) error {
	var req RegisterTournamentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	t, err := s.RegisterTournament(c.UserContext(), s.Config, req)
	switch {
	case errors.Is(err, ErrTournamentNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "escrow account not found on-chain"})
	case errors.Is(err, ErrInvalidSplit):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	case err != nil:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(t)
}

func (s *TournamentService) GetTournamentByID(c *fiber.Ctx) error {
	var t models.Tournament
	if err := s.DB.First(&t, "id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "tournament not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(t)
}

func (s *TournamentService) GetSettlementEndpoint(c *fiber.Ctx) error {
	record, err := s.LatestSettlement(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no settlement for tournament"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(record)
}

func (s *TournamentService) ActivateTournamentEndpoint(c *fiber.Ctx) error {
	t, err := s.ActivateTournament(c.UserContext(), c.Params("id"))
	switch {
	case errors.Is(err, ErrTournamentNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ErrFundingNotVerified):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(t)
}

// ConcludeTournamentEndpoint settles a tournament on operator request. When
// no participant list is supplied, the confirmed payers are used.
func (s *TournamentService) ConcludeTournamentEndpoint(c *fiber.Ctx) error {
	var body struct {
		WinnerAddress *string  `json:"winner_address"`
		Participants  []string `json:"participants"`
	}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
	}

	var t models.Tournament
	if err := s.DB.First(&t, "id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "tournament not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	participants := body.Participants
	if participants == nil {
		var err error
		participants, err = s.ConfirmedParticipants(c.UserContext(), t.Address)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load participants"})
		}
	}

	report, err := s.ConcludeAndSettle(c.UserContext(), s.Config, t.Address, body.WinnerAddress, participants)
	switch {
	case errors.Is(err, ErrConcludeFailed):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error(), "report": report})
	case errors.Is(err, ErrSettlementInProgress), errors.Is(err, ErrTournamentNotActive):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ErrTournamentNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case err != nil:
		log.Printf("❌ [SETTLE] Manual conclusion of %s failed: %v", t.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error(), "report": report})
	}
	return c.JSON(report)
}
