// services/scheduler.go
package services

import (
	"context"
	"errors"
	"log"
	"time"

	"tournament-settlement-system/models"

	"github.com/go-co-op/gocron/v2"
	"golang.org/x/sync/errgroup"
)

// maxParallelSettlements bounds concurrent conclusions across tournaments.
const maxParallelSettlements = 4

// StartLifecycleScheduler runs the activation and expiry sweep every minute.
func (s *TournamentService) StartLifecycleScheduler(ctx context.Context) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	// Every minute: activate funded tournaments, settle expired ones
	_, err = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			s.RunLifecycleSweep(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, err
	}
	sched.Start()
	return sched, nil
}

// RunLifecycleSweep performs one pass of the scheduler job.
func (s *TournamentService) RunLifecycleSweep(ctx context.Context) {
	now := s.now()

	var upcoming []models.Tournament
	err := s.DB.WithContext(ctx).
		Where("status = ? AND start_time <= ? AND funding_signature <> ''", models.TournamentStatusUpcoming, now).
		Find(&upcoming).Error
	if err != nil {
		log.Printf("[Scheduler] DB error: %v", err)
		return
	}
	for _, t := range upcoming {
		if _, err := s.ActivateTournament(ctx, t.ID); err != nil {
			log.Printf("[Scheduler] Tournament %s not activated: %v", t.Name, err)
		}
	}

	var expired []models.Tournament
	err = s.DB.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", models.TournamentStatusActive, now).
		Find(&expired).Error
	if err != nil {
		log.Printf("[Scheduler] DB error: %v", err)
		return
	}

	var g errgroup.Group
	g.SetLimit(maxParallelSettlements)
	for _, t := range expired {
		t := t
		g.Go(func() error {
			participants, err := s.ConfirmedParticipants(ctx, t.Address)
			if err != nil {
				log.Printf("[Scheduler] Failed to load participants of %s: %v", t.Name, err)
				return nil
			}
			report, err := s.ConcludeAndSettle(ctx, s.Config, t.Address, nil, participants)
			switch {
			case errors.Is(err, ErrSettlementInProgress):
				log.Printf("[Scheduler] %s is being settled elsewhere", t.Name)
			case err != nil:
				log.Printf("[Scheduler] Settlement of %s failed: %v", t.Name, err)
			case report.AlreadyConcluded:
				log.Printf("[Scheduler] %s already concluded", t.Name)
			default:
				log.Printf("✅ Auto-concluded tournament: %s", t.Name)
			}
			return nil
		})
	}
	_ = g.Wait()
}
