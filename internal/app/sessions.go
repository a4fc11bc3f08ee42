package app

import (
	"context"
	"errors"
	"time"

	"exam-room-service/internal/broadcast"
	"exam-room-service/internal/domain"
	"github.com/google/uuid"
)

// SessionService handles join, reconnect and resume.
type SessionService struct {
	deps Deps
}

func NewSessionService(deps Deps) *SessionService {
	return &SessionService{deps: deps.withDefaults()}
}

// JoinRequest identifies who is joining which room over which connection.
type JoinRequest struct {
	RoomCode     string
	Identity     domain.Identity
	ConnectionID string
}

// JoinResult is everything a client needs to render or resume the quiz.
type JoinResult struct {
	Participant        domain.Participant `json:"participant"`
	Room               domain.Room        `json:"room"`
	RemainingQuestions []domain.Question  `json:"remainingQuestions"`
	AnsweredIDs        []string           `json:"answeredQuestionIds"`
	Progress           float64            `json:"progress"`
	EndTime            *time.Time         `json:"endTime,omitempty"`
	Reconnected        bool               `json:"reconnected"`
}

// SyncResult pairs a snapshot with the participant's submissions.
type SyncResult struct {
	Snapshot    Snapshot            `json:"participant"`
	Submissions []domain.Submission `json:"submissions"`
}

// Join is idempotent per (room, identity): a second join reuses the stored
// participant, refreshes its connection and returns its progress unchanged.
func (s *SessionService) Join(ctx context.Context, req JoinRequest) (JoinResult, error) {
	if err := req.Identity.Validate(); err != nil {
		return JoinResult{}, err
	}
	code := normalizeCode(req.RoomCode)
	if code == "" {
		return JoinResult{}, domain.NewError(domain.CodeValidation, "room code is required")
	}
	room, err := s.deps.Rooms.GetByCode(ctx, code)
	if err != nil {
		return JoinResult{}, internal("get room", err)
	}
	now := s.deps.Now()
	if !room.Open(now) {
		return JoinResult{}, domain.ErrRoomNotOpen
	}
	quiz, err := s.deps.Quizzes.GetQuiz(ctx, room.QuizID)
	if err != nil {
		return JoinResult{}, internal("load quiz", err)
	}

	participant, err := s.deps.Participants.FindByIdentity(ctx, room.ID, req.Identity)
	reconnected := err == nil
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrParticipantNotFound):
		participant, reconnected, err = s.create(ctx, room, quiz, req.Identity, now)
		if err != nil {
			return JoinResult{}, err
		}
	default:
		return JoinResult{}, internal("find participant", err)
	}

	if err := s.deps.Rooms.AddParticipant(ctx, room.ID, participant.ID); err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			// The room was deleted after it was read; drop what this join wrote.
			if cerr := s.deps.Participants.DeleteByRoom(ctx, room.ID); cerr != nil {
				return JoinResult{}, internal("drop participant of deleted room", cerr)
			}
		}
		return JoinResult{}, internal("add participant to room", err)
	}
	if req.ConnectionID != "" {
		participant, err = s.deps.Participants.Attach(ctx, participant.ID, req.ConnectionID, now)
		if err != nil {
			return JoinResult{}, internal("attach connection", err)
		}
	}

	s.deps.Events.Publish(ctx, broadcast.RoomChannel(room.ID), broadcast.Event{
		Type:    broadcast.EventParticipantJoined,
		Payload: ParticipantJoined{Participant: participant, RoomID: room.ID, Reconnected: reconnected},
	})
	return buildJoinResult(room, quiz, participant, reconnected), nil
}

// create inserts a participant with a fresh permutation of the quiz. A racing
// join for the same identity loses to the stored row and is reported as a
// reconnect.
func (s *SessionService) create(ctx context.Context, room domain.Room, quiz domain.Quiz, identity domain.Identity, now time.Time) (domain.Participant, bool, error) {
	queue := quiz.QuestionIDs()
	s.deps.Shuffle(queue)

	displayName := identity.DisplayName()
	if displayName == "" {
		displayName = identity.UserID()
	}
	p, created, err := s.deps.Participants.CreateOrGet(ctx, domain.Participant{
		ID:          uuid.NewString(),
		RoomID:      room.ID,
		QuizID:      room.QuizID,
		Identity:    identity,
		DisplayName: displayName,
		IsLoggedIn:  identity.IsLoggedIn(),
		Remaining:   queue,
		Answered:    []domain.AnsweredQuestion{},
		JoinedAt:    now,
		LastActive:  now,
	})
	if err != nil {
		return domain.Participant{}, false, internal("create participant", err)
	}
	return p, !created, nil
}

// Rejoin resumes an existing participant by id on a new connection.
func (s *SessionService) Rejoin(ctx context.Context, participantID string, caller domain.Identity, connectionID string) (JoinResult, error) {
	p, err := s.deps.Participants.Get(ctx, participantID)
	if err != nil {
		return JoinResult{}, internal("get participant", err)
	}
	if p.IsLoggedIn && !p.Identity.Equal(caller) {
		return JoinResult{}, domain.NewError(domain.CodeForbidden, "participant belongs to another user")
	}
	room, err := s.deps.Rooms.Get(ctx, p.RoomID)
	if err != nil {
		return JoinResult{}, internal("get room", err)
	}
	now := s.deps.Now()
	if !room.Open(now) {
		return JoinResult{}, domain.ErrRoomNotOpen
	}
	quiz, err := s.deps.Quizzes.GetQuiz(ctx, p.QuizID)
	if err != nil {
		return JoinResult{}, internal("load quiz", err)
	}
	if connectionID != "" {
		if p, err = s.deps.Participants.Attach(ctx, p.ID, connectionID, now); err != nil {
			return JoinResult{}, internal("attach connection", err)
		}
	}
	s.deps.Events.Publish(ctx, broadcast.RoomChannel(room.ID), broadcast.Event{
		Type:    broadcast.EventParticipantJoined,
		Payload: ParticipantJoined{Participant: p, RoomID: room.ID, Reconnected: true},
	})
	return buildJoinResult(room, quiz, p, true), nil
}

// Status returns the resumable snapshot of a participant.
func (s *SessionService) Status(ctx context.Context, participantID string) (Snapshot, error) {
	p, err := s.deps.Participants.Get(ctx, participantID)
	if err != nil {
		return Snapshot{}, internal("get participant", err)
	}
	return snapshotOf(p), nil
}

// Sync is the pull used by clients to self-heal after missed pushes.
func (s *SessionService) Sync(ctx context.Context, participantID string) (SyncResult, error) {
	p, err := s.deps.Participants.Get(ctx, participantID)
	if err != nil {
		return SyncResult{}, internal("get participant", err)
	}
	subs, err := s.deps.Submissions.ListByParticipant(ctx, participantID)
	if err != nil {
		return SyncResult{}, internal("list submissions", err)
	}
	return SyncResult{Snapshot: snapshotOf(p), Submissions: subs}, nil
}

// HandleDisconnect clears the stored connection handle. Progress is never
// touched, so the participant can resume until the room completes.
func (s *SessionService) HandleDisconnect(ctx context.Context, connectionID string) error {
	if connectionID == "" {
		return nil
	}
	p, ok, err := s.deps.Participants.Detach(ctx, connectionID, s.deps.Now())
	if err != nil {
		return internal("detach connection", err)
	}
	if !ok {
		return nil
	}
	s.deps.Events.Publish(ctx, broadcast.RoomChannel(p.RoomID), broadcast.Event{
		Type:    broadcast.EventParticipantLeft,
		Payload: ParticipantLeft{ParticipantID: p.ID, RoomID: p.RoomID},
	})
	return nil
}

func buildJoinResult(room domain.Room, quiz domain.Quiz, p domain.Participant, reconnected bool) JoinResult {
	remaining := make([]domain.Question, 0, len(p.Remaining))
	for _, id := range p.Remaining {
		if q, ok := quiz.Question(id); ok {
			remaining = append(remaining, q.Public())
		}
	}
	return JoinResult{
		Participant:        p,
		Room:               room,
		RemainingQuestions: remaining,
		AnsweredIDs:        p.AnsweredIDs(),
		Progress:           p.Progress(),
		EndTime:            room.EndTime,
		Reconnected:        reconnected,
	}
}
