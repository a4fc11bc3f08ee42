package app

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"exam-room-service/internal/broadcast"
	"exam-room-service/internal/domain"
	"exam-room-service/internal/scoring"
	"github.com/google/uuid"
)

// SubmissionService admits, scores and records answers.
type SubmissionService struct {
	deps Deps
}

func NewSubmissionService(deps Deps) *SubmissionService {
	return &SubmissionService{deps: deps.withDefaults()}
}

// SubmitRequest is one answer from a participant.
type SubmitRequest struct {
	ParticipantID   string
	QuestionID      string
	Answer          json.RawMessage
	ClientTimestamp time.Time
}

// SubmitResult reports the outcome and the participant's fresh progress.
type SubmitResult struct {
	Accepted     bool              `json:"accepted"`
	IsCorrect    bool              `json:"isCorrect"`
	Score        int               `json:"score"`
	TotalScore   int               `json:"totalScore"`
	SubmissionID string            `json:"submissionId"`
	Remaining    []string          `json:"updatedRemaining"`
	Progress     float64           `json:"updatedProgress"`
	Snapshot     Snapshot          `json:"snapshot"`
	Submission   domain.Submission `json:"-"`
}

// Submit accepts an answer at most once per (participant, question). The
// early Pending check rejects obvious duplicates without work; RecordAnswer
// repeats it atomically so concurrent duplicates cannot both score.
func (s *SubmissionService) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	received := s.deps.Now()
	if strings.TrimSpace(req.ParticipantID) == "" || strings.TrimSpace(req.QuestionID) == "" {
		return SubmitResult{}, domain.NewError(domain.CodeValidation, "participantId and questionId are required")
	}

	p, err := s.deps.Participants.Get(ctx, req.ParticipantID)
	if err != nil {
		return SubmitResult{}, internal("get participant", err)
	}
	if !p.Pending(req.QuestionID) {
		return SubmitResult{}, domain.ErrInvalidQuestion
	}

	room, err := s.deps.Rooms.Get(ctx, p.RoomID)
	if err != nil {
		return SubmitResult{}, internal("get room", err)
	}
	// The sweep may lag behind the deadline; EndTime decides.
	if !room.Open(received) {
		return SubmitResult{}, domain.ErrRoomNotOpen
	}

	quiz, err := s.deps.Quizzes.GetQuiz(ctx, p.QuizID)
	if err != nil {
		return SubmitResult{}, internal("load quiz", err)
	}
	question, ok := quiz.Question(req.QuestionID)
	if !ok {
		return SubmitResult{}, domain.ErrInvalidQuestion
	}

	answer, err := scoring.DecodeAnswer(question.Type, req.Answer)
	if err != nil {
		return SubmitResult{}, err
	}
	result, err := scoring.Score(question, answer)
	if err != nil {
		return SubmitResult{}, err
	}

	sub := domain.Submission{
		ID:            uuid.NewString(),
		ParticipantID: p.ID,
		RoomID:        p.RoomID,
		QuestionID:    question.ID,
		QuestionType:  question.Type,
		Answer:        append(json.RawMessage{}, req.Answer...),
		IsCorrect:     result.Correct,
		Score:         result.Score,
		TimeToAnswer:  timeToAnswer(received, req.ClientTimestamp),
		SubmittedAt:   received,
	}
	updated, err := s.deps.Participants.RecordAnswer(ctx, sub)
	if err != nil {
		return SubmitResult{}, internal("record answer", err)
	}

	snap := snapshotOf(updated)
	s.deps.Events.Publish(ctx, broadcast.ParticipantChannel(updated.ID), broadcast.Event{
		Type:    broadcast.EventQuestionsUpdated,
		Payload: snap,
	})
	return SubmitResult{
		Accepted:     true,
		IsCorrect:    sub.IsCorrect,
		Score:        sub.Score,
		TotalScore:   updated.Score,
		SubmissionID: sub.ID,
		Remaining:    snap.Remaining,
		Progress:     snap.Progress,
		Snapshot:     snap,
		Submission:   sub,
	}, nil
}

// timeToAnswer is analytics only; a missing or future client timestamp yields zero.
func timeToAnswer(received, client time.Time) time.Duration {
	if client.IsZero() || client.After(received) {
		return 0
	}
	return received.Sub(client)
}
