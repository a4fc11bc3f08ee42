package app_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"exam-room-service/internal/app"
	"exam-room-service/internal/broadcast"
	"exam-room-service/internal/domain"
	"exam-room-service/internal/infra/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type published struct {
	channel string
	event   broadcast.Event
}

type recorder struct {
	mu     sync.Mutex
	events []published
}

func (r *recorder) Publish(_ context.Context, channel string, event broadcast.Event) {
	r.mu.Lock()
	r.events = append(r.events, published{channel: channel, event: event})
	r.mu.Unlock()
}

func (r *recorder) count(channel, eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.events {
		if p.channel == channel && p.event.Type == eventType {
			n++
		}
	}
	return n
}

type fixture struct {
	store       *memory.Store
	clock       *fakeClock
	events      *recorder
	deps        app.Deps
	rooms       *app.RoomService
	sessions    *app.SessionService
	submissions *app.SubmissionService
}

func newFixture() *fixture {
	store := memory.NewStore()
	clock := newClock()
	events := &recorder{}
	codes := 0
	var codeMu sync.Mutex
	deps := app.Deps{
		Rooms:        store,
		Participants: store.Participants(),
		Submissions:  store.Submissions(),
		Quizzes:      memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": sampleQuiz()}), time.Minute),
		Events:       events,
		Now:          clock.Now,
		// Reverse instead of shuffle so tests can predict queue order.
		Shuffle: func(ids []string) {
			for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
				ids[i], ids[j] = ids[j], ids[i]
			}
		},
		NewCode: func() string {
			codeMu.Lock()
			defer codeMu.Unlock()
			codes++
			return fmt.Sprintf("ROOM%02d", codes)
		},
	}
	return &fixture{
		store:       store,
		clock:       clock,
		events:      events,
		deps:        deps,
		rooms:       app.NewRoomService(deps),
		sessions:    app.NewSessionService(deps),
		submissions: app.NewSubmissionService(deps),
	}
}

// activeRoom creates and starts a 30 minute room hosted by "host".
func (f *fixture) activeRoom(ctx context.Context) domain.Room {
	room, err := f.rooms.Create(ctx, "host", app.CreateRoomInput{QuizID: "quiz-1", Name: "Midterm", DurationMinutes: 30})
	if err != nil {
		panic(err)
	}
	room, err = f.rooms.Start(ctx, "host", room.ID)
	if err != nil {
		panic(err)
	}
	return room
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID: "quiz-1",
		Questions: []domain.Question{
			{
				ID:   "q1",
				Type: domain.QuestionMultipleChoice,
				Options: []domain.Option{
					{Text: "Paris", Correct: true},
					{Text: "London"},
				},
				Points: 5,
			},
			{ID: "q2", Type: domain.QuestionFillInBlank, AcceptedAnswers: []string{"Hanoi"}, Points: 2},
			{
				ID:   "q3",
				Type: domain.QuestionDragAndDrop,
				Pairs: []domain.Pair{
					{Draggable: "A", DropZone: "1"},
					{Draggable: "B", DropZone: "2"},
				},
				Points: 3,
			},
			{ID: "q4", Type: domain.QuestionParagraph, Points: 10},
		},
	}
}
