package app

import (
	"context"
	"time"

	"exam-room-service/internal/broadcast"
	"exam-room-service/internal/domain"
)

// RoomFilter narrows ListByHost.
type RoomFilter struct {
	HostID string
	Status domain.RoomStatus // empty matches all
	Offset int
	Limit  int
}

// RoomRepository persists rooms. Update is the only mutation path after
// Create: it reads the stored room, runs fn and writes the result as one
// atomic unit, so fn acts as the condition of a conditional update.
type RoomRepository interface {
	// Create stores a new room, returning domain.ErrCodeTaken when the code collides.
	Create(ctx context.Context, room domain.Room) error
	Get(ctx context.Context, id string) (domain.Room, error)
	GetByCode(ctx context.Context, code string) (domain.Room, error)
	ListByHost(ctx context.Context, filter RoomFilter) ([]domain.Room, int, error)
	Update(ctx context.Context, id string, fn func(*domain.Room) error) (domain.Room, error)
	// AddParticipant appends participantID to the room at most once.
	AddParticipant(ctx context.Context, roomID, participantID string) error
	// DueForActivation lists scheduled auto-start rooms whose start time has
	// passed and whose activation check is unset or older than cutoff.
	DueForActivation(ctx context.Context, now, cutoff time.Time) ([]domain.Room, error)
	// DueForCompletion lists active rooms whose end time has passed.
	DueForCompletion(ctx context.Context, now time.Time) ([]domain.Room, error)
	Delete(ctx context.Context, id string) error
}

// ParticipantRepository persists per-participant progress.
type ParticipantRepository interface {
	// CreateOrGet inserts p unless a participant with the same room and
	// identity key exists, in which case the stored one is returned with
	// created=false.
	CreateOrGet(ctx context.Context, p domain.Participant) (domain.Participant, bool, error)
	Get(ctx context.Context, id string) (domain.Participant, error)
	FindByIdentity(ctx context.Context, roomID string, identity domain.Identity) (domain.Participant, error)
	ListByRoom(ctx context.Context, roomID string) ([]domain.Participant, error)
	// Attach stores connectionID as the participant's live handle.
	Attach(ctx context.Context, id, connectionID string, now time.Time) (domain.Participant, error)
	// Detach clears the handle of whichever participant holds connectionID.
	// ok is false when no participant holds it.
	Detach(ctx context.Context, connectionID string, now time.Time) (p domain.Participant, ok bool, err error)
	// RecordAnswer is a compare-and-swap on queue membership: if
	// sub.QuestionID is still remaining it stores sub, moves the question to
	// answered, adds sub.Score and stamps LastActive together. Otherwise it
	// returns domain.ErrInvalidQuestion and writes nothing.
	RecordAnswer(ctx context.Context, sub domain.Submission) (domain.Participant, error)
	DeleteByRoom(ctx context.Context, roomID string) error
}

// SubmissionRepository reads the write-once submission log.
type SubmissionRepository interface {
	ListByParticipant(ctx context.Context, participantID string) ([]domain.Submission, error)
	ListByRoom(ctx context.Context, roomID string) ([]domain.Submission, error)
	DeleteByRoom(ctx context.Context, roomID string) error
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// Broadcaster fans events out to subscribers of a channel. Delivery is
// best-effort and never blocks the caller on slow clients.
type Broadcaster interface {
	Publish(ctx context.Context, channel string, event broadcast.Event)
}

// QuizLoader fetches quiz content from the backing store on a cache miss.
type QuizLoader interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}
