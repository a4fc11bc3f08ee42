package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"exam-room-service/internal/app"
	"exam-room-service/internal/broadcast"
	"exam-room-service/internal/domain"
)

func scheduled(t *testing.T, f *fixture, ctx context.Context, in time.Duration) domain.Room {
	t.Helper()
	start := f.clock.Now().Add(in)
	room, err := f.rooms.Create(ctx, "host", app.CreateRoomInput{QuizID: "quiz-1", DurationMinutes: 30, StartTime: &start})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return room
}

func TestSweepActivatesDueRooms(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	room := scheduled(t, f, ctx, time.Minute)
	sweeper := app.NewSweeper(f.rooms, time.Second, 30*time.Second)

	report, err := sweeper.Tick(ctx)
	if err != nil || len(report.Activated) != 0 {
		t.Fatalf("room activated before its start time: %+v %v", report, err)
	}

	f.clock.Advance(90 * time.Second)
	report, err = sweeper.Tick(ctx)
	if err != nil || len(report.Activated) != 1 || report.Activated[0] != room.ID {
		t.Fatalf("expected activation, got %+v %v", report, err)
	}
	got, _ := f.rooms.Get(ctx, room.ID)
	if got.Status != domain.RoomActive {
		t.Fatalf("expected active, got %s", got.Status)
	}
	if !got.StartTime.Equal(f.clock.Now()) || !got.EndTime.Equal(got.StartTime.Add(30*time.Minute)) {
		t.Fatalf("end time must be start + duration, got start=%s end=%s", got.StartTime, got.EndTime)
	}
	// Occupants may now join.
	if _, err := f.sessions.Join(ctx, app.JoinRequest{RoomCode: got.Code, Identity: domain.Authenticated("u1")}); err != nil {
		t.Fatalf("join after activation: %v", err)
	}
	if f.events.count(broadcast.HostChannel("host"), broadcast.EventRoomActivated) != 1 ||
		f.events.count(broadcast.RoomChannel(room.ID), broadcast.EventRoomActivated) != 1 {
		t.Fatalf("expected room-activated on host and room channels")
	}
}

func TestSweepSkipsManualRooms(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	room, _ := f.rooms.Create(ctx, "host", app.CreateRoomInput{QuizID: "quiz-1", DurationMinutes: 30})
	f.clock.Advance(time.Hour)

	report, _ := app.NewSweeper(f.rooms, time.Second, time.Second).Tick(ctx)
	if len(report.Activated) != 0 {
		t.Fatalf("room without auto-start was activated")
	}
	got, _ := f.rooms.Get(ctx, room.ID)
	if got.Status != domain.RoomScheduled {
		t.Fatalf("expected scheduled, got %s", got.Status)
	}
}

func TestSweepDebouncesRecentChecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	room := scheduled(t, f, ctx, 0)
	checked := f.clock.Now()
	_, _ = f.store.Update(ctx, room.ID, func(r *domain.Room) error {
		r.LastActivationCheck = &checked
		return nil
	})
	sweeper := app.NewSweeper(f.rooms, time.Second, 30*time.Second)

	f.clock.Advance(10 * time.Second)
	if report, _ := sweeper.Tick(ctx); len(report.Activated) != 0 {
		t.Fatalf("room re-checked inside the debounce window")
	}
	f.clock.Advance(25 * time.Second)
	if report, _ := sweeper.Tick(ctx); len(report.Activated) != 1 {
		t.Fatalf("expected activation once the window passed, got %+v", report)
	}
}

func TestConcurrentSweepsActivateOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	room := scheduled(t, f, ctx, 0)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = app.NewSweeper(f.rooms, time.Second, 30*time.Second).Tick(ctx)
		}()
	}
	wg.Wait()

	if n := f.events.count(broadcast.RoomChannel(room.ID), broadcast.EventRoomActivated); n != 1 {
		t.Fatalf("expected one activation event, got %d", n)
	}
}

func TestManualStartRacingSweepActivatesOnce(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		f := newFixture()
		room := scheduled(t, f, ctx, 0)
		sweeper := app.NewSweeper(f.rooms, time.Second, 30*time.Second)

		var (
			wg       sync.WaitGroup
			startErr error
			report   app.SweepReport
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, startErr = f.rooms.Start(ctx, "host", room.ID)
		}()
		go func() {
			defer wg.Done()
			report, _ = sweeper.Tick(ctx)
		}()
		wg.Wait()

		winners := len(report.Activated)
		if startErr == nil {
			winners++
		} else if !errors.Is(startErr, domain.ErrInvalidState) {
			t.Fatalf("manual start failed unexpectedly: %v", startErr)
		}
		if winners != 1 {
			t.Fatalf("expected exactly one activation, start=%v sweep=%v", startErr, report.Activated)
		}
		if n := f.events.count(broadcast.RoomChannel(room.ID), broadcast.EventRoomActivated); n != 1 {
			t.Fatalf("expected one room-activated, got %d", n)
		}
		got, _ := f.rooms.Get(ctx, room.ID)
		if got.Status != domain.RoomActive || !got.EndTime.Equal(got.StartTime.Add(30*time.Minute)) {
			t.Fatalf("unexpected room after race %+v", got)
		}
	}
}

func TestManualEndRacingSweepCompletesOnce(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		f := newFixture()
		room := f.activeRoom(ctx)
		f.clock.Advance(30 * time.Minute)
		sweeper := app.NewSweeper(f.rooms, time.Second, time.Second)

		var (
			wg     sync.WaitGroup
			endErr error
			report app.SweepReport
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, endErr = f.rooms.End(ctx, "host", room.ID)
		}()
		go func() {
			defer wg.Done()
			report, _ = sweeper.Tick(ctx)
		}()
		wg.Wait()

		winners := len(report.Completed)
		if endErr == nil {
			winners++
		} else if !errors.Is(endErr, domain.ErrInvalidState) {
			t.Fatalf("manual end failed unexpectedly: %v", endErr)
		}
		if winners != 1 {
			t.Fatalf("expected exactly one completion, end=%v sweep=%v", endErr, report.Completed)
		}
		if n := f.events.count(broadcast.HostChannel("host"), broadcast.EventRoomCompleted); n != 1 {
			t.Fatalf("expected one room-completed, got %d", n)
		}
		if n := f.events.count(broadcast.RoomChannel(room.ID), broadcast.EventRoomEnded); n != 1 {
			t.Fatalf("expected one room-ended, got %d", n)
		}
	}
}

func TestSweepCompletesExpiredRooms(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	room := f.activeRoom(ctx)
	sweeper := app.NewSweeper(f.rooms, time.Second, time.Second)

	f.clock.Advance(29 * time.Minute)
	if report, _ := sweeper.Tick(ctx); len(report.Completed) != 0 {
		t.Fatalf("room completed early")
	}
	f.clock.Advance(time.Minute)
	report, _ := sweeper.Tick(ctx)
	if len(report.Completed) != 1 {
		t.Fatalf("expected completion, got %+v", report)
	}
	got, _ := f.rooms.Get(ctx, room.ID)
	if got.Status != domain.RoomCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if f.events.count(broadcast.HostChannel("host"), broadcast.EventRoomCompleted) != 1 ||
		f.events.count(broadcast.RoomChannel(room.ID), broadcast.EventRoomEnded) != 1 {
		t.Fatalf("expected room-completed to host and room-ended to occupants")
	}
}

func TestSweepDeadlineAfterExtension(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	room := f.activeRoom(ctx)
	if _, err := f.rooms.ExtendDuration(ctx, "host", room.ID, 45); err != nil {
		t.Fatalf("extend: %v", err)
	}
	sweeper := app.NewSweeper(f.rooms, time.Second, time.Second)

	f.clock.Advance(40 * time.Minute)
	if report, _ := sweeper.Tick(ctx); len(report.Completed) != 0 {
		t.Fatalf("extended room completed at the old deadline")
	}
	f.clock.Advance(5 * time.Minute)
	if report, _ := sweeper.Tick(ctx); len(report.Completed) != 1 {
		t.Fatalf("expected completion at the extended deadline")
	}
}

type flakyRooms struct {
	app.RoomRepository
	failID string
}

func (r flakyRooms) Update(ctx context.Context, id string, fn func(*domain.Room) error) (domain.Room, error) {
	if id == r.failID {
		return domain.Room{}, errors.New("connection reset")
	}
	return r.RoomRepository.Update(ctx, id, fn)
}

func TestSweepIsolatesRoomFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	bad := scheduled(t, f, ctx, 0)
	good := scheduled(t, f, ctx, 0)

	deps := f.deps
	deps.Rooms = flakyRooms{RoomRepository: f.store, failID: bad.ID}
	sweeper := app.NewSweeper(app.NewRoomService(deps), time.Second, time.Second)

	report, err := sweeper.Tick(ctx)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(report.Activated) != 1 || report.Activated[0] != good.ID {
		t.Fatalf("expected the healthy room to activate, got %+v", report)
	}
	if _, ok := report.Failed[bad.ID]; !ok {
		t.Fatalf("expected failure recorded for %s", bad.ID)
	}
	got, _ := f.rooms.Get(ctx, bad.ID)
	if got.Status != domain.RoomScheduled {
		t.Fatalf("failed room changed status: %s", got.Status)
	}
}

func TestSweeperRunStopsWithContext(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.NewSweeper(f.rooms, 5*time.Millisecond, time.Second).Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("sweeper did not stop")
	}
}
