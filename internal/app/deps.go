package app

import (
	"context"
	"errors"
	"io"
	"log"
	"math/rand"
	"time"

	"exam-room-service/internal/broadcast"
	"exam-room-service/internal/domain"
)

// Deps wires the stores and collaborators shared by every service.
type Deps struct {
	Rooms        RoomRepository
	Participants ParticipantRepository
	Submissions  SubmissionRepository
	Quizzes      QuizRepository
	Events       Broadcaster

	// Optional.
	Now     func() time.Time
	Logger  *log.Logger
	Shuffle func([]string)
	NewCode func() string
}

func (d Deps) withDefaults() Deps {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = log.New(io.Discard, "", 0)
	}
	if d.Shuffle == nil {
		d.Shuffle = func(ids []string) {
			rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
		}
	}
	if d.NewCode == nil {
		d.NewCode = newRoomCode
	}
	if d.Events == nil {
		d.Events = discardEvents{}
	}
	return d
}

type discardEvents struct{}

func (discardEvents) Publish(context.Context, string, broadcast.Event) {}

const roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// newRoomCode returns a 6-character alphanumeric join code.
func newRoomCode() string {
	b := make([]byte, 6)
	for i := range b {
		b[i] = roomCodeAlphabet[rand.Intn(len(roomCodeAlphabet))]
	}
	return string(b)
}

// internal converts store and driver failures into SERVER_ERROR while passing
// domain errors through untouched.
func internal(op string, err error) error {
	if err == nil {
		return nil
	}
	var derr *domain.Error
	if errors.As(err, &derr) {
		return err
	}
	return domain.Wrap(domain.CodeServerError, op, err)
}
