package app

import (
	"context"
	"time"

	"exam-room-service/internal/domain"
)

const (
	DefaultSweepInterval = 15 * time.Second
	DefaultSweepDebounce = 30 * time.Second
)

// Sweeper activates and completes rooms by wall-clock time.
type Sweeper struct {
	rooms    *RoomService
	deps     Deps
	interval time.Duration
	debounce time.Duration
}

// NewSweeper builds a sweeper that drives transitions through rooms.
func NewSweeper(rooms *RoomService, interval, debounce time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if debounce <= 0 {
		debounce = DefaultSweepDebounce
	}
	return &Sweeper{rooms: rooms, deps: rooms.deps, interval: interval, debounce: debounce}
}

// SweepReport lists what one tick changed.
type SweepReport struct {
	Activated []string          `json:"activated"`
	Completed []string          `json:"completed"`
	Failed    map[string]string `json:"failed,omitempty"`
}

func (r *SweepReport) fail(roomID string, err error) {
	if r.Failed == nil {
		r.Failed = make(map[string]string)
	}
	r.Failed[roomID] = err.Error()
}

// Run ticks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.deps.Logger.Printf("sweep: running every %s", s.interval)
	for {
		if _, err := s.Tick(ctx); err != nil {
			s.deps.Logger.Printf("sweep: tick failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick makes one pass. Per-room failures are recorded in the report and
// never abort the batch; only a failed scan returns an error.
func (s *Sweeper) Tick(ctx context.Context) (SweepReport, error) {
	report := SweepReport{Activated: []string{}, Completed: []string{}}
	now := s.deps.Now()
	cutoff := now.Add(-s.debounce)

	due, err := s.deps.Rooms.DueForActivation(ctx, now, cutoff)
	if err != nil {
		return report, internal("scan rooms to activate", err)
	}
	for _, room := range due {
		_, err := s.rooms.activate(ctx, room.ID, func(r *domain.Room) error {
			return activationDue(r, now, cutoff)
		})
		if err != nil {
			s.deps.Logger.Printf("sweep: activate room %s: %v", room.ID, err)
			report.fail(room.ID, err)
			continue
		}
		report.Activated = append(report.Activated, room.ID)
	}

	expired, err := s.deps.Rooms.DueForCompletion(ctx, now)
	if err != nil {
		return report, internal("scan rooms to complete", err)
	}
	for _, room := range expired {
		_, err := s.rooms.complete(ctx, room.ID, func(r *domain.Room) error {
			if r.EndTime == nil || r.EndTime.After(now) {
				return domain.ErrInvalidState
			}
			return nil
		})
		if err != nil {
			s.deps.Logger.Printf("sweep: complete room %s: %v", room.ID, err)
			report.fail(room.ID, err)
			continue
		}
		report.Completed = append(report.Completed, room.ID)
	}
	return report, nil
}

// activationDue re-checks the scan predicate against the stored room inside
// the atomic update, so the debounce stamp and the status change commit
// together.
func activationDue(r *domain.Room, now, cutoff time.Time) error {
	if r.Status != domain.RoomScheduled || !r.AutoStart || r.StartTime == nil || r.StartTime.After(now) {
		return domain.ErrInvalidState
	}
	if r.LastActivationCheck != nil && !r.LastActivationCheck.Before(cutoff) {
		return domain.ErrInvalidState
	}
	return nil
}
