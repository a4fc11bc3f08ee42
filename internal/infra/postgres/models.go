package postgres

import (
	"encoding/json"
	"time"

	"exam-room-service/internal/domain"
	"github.com/uptrace/bun"
)

type roomModel struct {
	bun.BaseModel `bun:"table:rooms,alias:r"`

	ID                  string     `bun:"id,pk"`
	Code                string     `bun:"code,notnull,unique"`
	Name                string     `bun:"name"`
	QuizID              string     `bun:"quiz_id,notnull"`
	HostID              string     `bun:"host_id,notnull"`
	Status              string     `bun:"status,notnull"`
	StartTime           *time.Time `bun:"start_time"`
	DurationMinutes     int        `bun:"duration_minutes,notnull"`
	EndTime             *time.Time `bun:"end_time"`
	AutoStart           bool       `bun:"auto_start,notnull"`
	Extended            bool       `bun:"extended,notnull"`
	ParticipantIDs      []string   `bun:"participant_ids,array"`
	LastActivationCheck *time.Time `bun:"last_activation_check"`
	CreatedAt           time.Time  `bun:"created_at,notnull"`
	UpdatedAt           time.Time  `bun:"updated_at,notnull"`
}

func roomRow(r domain.Room) *roomModel {
	ids := r.ParticipantIDs
	if ids == nil {
		ids = []string{}
	}
	return &roomModel{
		ID:                  r.ID,
		Code:                r.Code,
		Name:                r.Name,
		QuizID:              r.QuizID,
		HostID:              r.HostID,
		Status:              string(r.Status),
		StartTime:           utcPtr(r.StartTime),
		DurationMinutes:     r.DurationMinutes,
		EndTime:             utcPtr(r.EndTime),
		AutoStart:           r.AutoStart,
		Extended:            r.Extended,
		ParticipantIDs:      ids,
		LastActivationCheck: utcPtr(r.LastActivationCheck),
		CreatedAt:           r.CreatedAt.UTC(),
		UpdatedAt:           r.UpdatedAt.UTC(),
	}
}

func (m *roomModel) domain() domain.Room {
	ids := m.ParticipantIDs
	if ids == nil {
		ids = []string{}
	}
	return domain.Room{
		ID:                  m.ID,
		Code:                m.Code,
		Name:                m.Name,
		QuizID:              m.QuizID,
		HostID:              m.HostID,
		Status:              domain.RoomStatus(m.Status),
		StartTime:           utcPtr(m.StartTime),
		DurationMinutes:     m.DurationMinutes,
		EndTime:             utcPtr(m.EndTime),
		AutoStart:           m.AutoStart,
		Extended:            m.Extended,
		ParticipantIDs:      ids,
		LastActivationCheck: utcPtr(m.LastActivationCheck),
		CreatedAt:           m.CreatedAt.UTC(),
		UpdatedAt:           m.UpdatedAt.UTC(),
	}
}

type participantModel struct {
	bun.BaseModel `bun:"table:participants,alias:p"`

	ID           string                    `bun:"id,pk"`
	RoomID       string                    `bun:"room_id,notnull"`
	QuizID       string                    `bun:"quiz_id,notnull"`
	IdentityKey  string                    `bun:"identity_key,notnull"`
	Identity     domain.Identity           `bun:"identity,type:jsonb"`
	DisplayName  string                    `bun:"display_name"`
	IsLoggedIn   bool                      `bun:"is_logged_in,notnull"`
	ConnectionID string                    `bun:"connection_id,nullzero"`
	Remaining    []string                  `bun:"remaining,array"`
	Answered     []domain.AnsweredQuestion `bun:"answered,type:jsonb"`
	Score        int                       `bun:"score,notnull"`
	JoinedAt     time.Time                 `bun:"joined_at,notnull"`
	LastActive   time.Time                 `bun:"last_active,notnull"`
}

func participantRow(p domain.Participant) *participantModel {
	remaining := p.Remaining
	if remaining == nil {
		remaining = []string{}
	}
	answered := p.Answered
	if answered == nil {
		answered = []domain.AnsweredQuestion{}
	}
	return &participantModel{
		ID:           p.ID,
		RoomID:       p.RoomID,
		QuizID:       p.QuizID,
		IdentityKey:  p.Identity.Key(),
		Identity:     p.Identity,
		DisplayName:  p.DisplayName,
		IsLoggedIn:   p.IsLoggedIn,
		ConnectionID: p.ConnectionID,
		Remaining:    remaining,
		Answered:     answered,
		Score:        p.Score,
		JoinedAt:     p.JoinedAt.UTC(),
		LastActive:   p.LastActive.UTC(),
	}
}

func (m *participantModel) domain() domain.Participant {
	remaining := m.Remaining
	if remaining == nil {
		remaining = []string{}
	}
	answered := m.Answered
	if answered == nil {
		answered = []domain.AnsweredQuestion{}
	}
	return domain.Participant{
		ID:           m.ID,
		RoomID:       m.RoomID,
		QuizID:       m.QuizID,
		Identity:     m.Identity,
		DisplayName:  m.DisplayName,
		IsLoggedIn:   m.IsLoggedIn,
		ConnectionID: m.ConnectionID,
		Remaining:    remaining,
		Answered:     answered,
		Score:        m.Score,
		JoinedAt:     m.JoinedAt.UTC(),
		LastActive:   m.LastActive.UTC(),
	}
}

type submissionModel struct {
	bun.BaseModel `bun:"table:submissions,alias:s"`

	ID             string          `bun:"id,pk"`
	ParticipantID  string          `bun:"participant_id,notnull"`
	RoomID         string          `bun:"room_id,notnull"`
	QuestionID     string          `bun:"question_id,notnull"`
	QuestionType   string          `bun:"question_type,notnull"`
	Answer         json.RawMessage `bun:"answer,type:jsonb"`
	IsCorrect      bool            `bun:"is_correct,notnull"`
	Score          int             `bun:"score,notnull"`
	TimeToAnswerMs int64           `bun:"time_to_answer_ms,notnull"`
	SubmittedAt    time.Time       `bun:"submitted_at,notnull"`
}

func submissionRow(s domain.Submission) *submissionModel {
	answer := s.Answer
	if len(answer) == 0 {
		answer = json.RawMessage("null")
	}
	return &submissionModel{
		ID:             s.ID,
		ParticipantID:  s.ParticipantID,
		RoomID:         s.RoomID,
		QuestionID:     s.QuestionID,
		QuestionType:   string(s.QuestionType),
		Answer:         answer,
		IsCorrect:      s.IsCorrect,
		Score:          s.Score,
		TimeToAnswerMs: s.TimeToAnswer.Milliseconds(),
		SubmittedAt:    s.SubmittedAt.UTC(),
	}
}

func (m *submissionModel) domain() domain.Submission {
	return domain.Submission{
		ID:            m.ID,
		ParticipantID: m.ParticipantID,
		RoomID:        m.RoomID,
		QuestionID:    m.QuestionID,
		QuestionType:  domain.QuestionType(m.QuestionType),
		Answer:        m.Answer,
		IsCorrect:     m.IsCorrect,
		Score:         m.Score,
		TimeToAnswer:  time.Duration(m.TimeToAnswerMs) * time.Millisecond,
		SubmittedAt:   m.SubmittedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
