package domain

import (
	"encoding/json"
	"time"
)

// RoomStatus is the lifecycle state of a room.
type RoomStatus string

const (
	RoomScheduled RoomStatus = "scheduled"
	RoomActive    RoomStatus = "active"
	RoomCompleted RoomStatus = "completed"
	RoomCancelled RoomStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s RoomStatus) Valid() bool {
	switch s {
	case RoomScheduled, RoomActive, RoomCompleted, RoomCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s RoomStatus) Terminal() bool {
	return s == RoomCompleted || s == RoomCancelled
}

// Room is a scheduled or live instance of a quiz.
type Room struct {
	ID                  string     `json:"id"`
	Code                string     `json:"roomCode"`
	Name                string     `json:"roomName"`
	QuizID              string     `json:"quizId"`
	HostID              string     `json:"hostId"`
	Status              RoomStatus `json:"status"`
	StartTime           *time.Time `json:"startTime,omitempty"`
	DurationMinutes     int        `json:"durationMinutes"`
	EndTime             *time.Time `json:"endTime,omitempty"`
	AutoStart           bool       `json:"autoStart"`
	// Extended is set once the duration of the active window has been changed.
	Extended            bool       `json:"extended"`
	ParticipantIDs      []string   `json:"participants"`
	LastActivationCheck *time.Time `json:"lastActivationCheck,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// Duration returns the configured window length.
func (r Room) Duration() time.Duration {
	return time.Duration(r.DurationMinutes) * time.Minute
}

// ComputeEndTime returns StartTime + DurationMinutes, or nil when no start is set.
func (r Room) ComputeEndTime() *time.Time {
	if r.StartTime == nil {
		return nil
	}
	end := r.StartTime.Add(r.Duration())
	return &end
}

// Open reports whether the room accepts answers at now. EndTime, not Status,
// is the authoritative deadline.
func (r Room) Open(now time.Time) bool {
	if r.Status != RoomActive {
		return false
	}
	return r.EndTime == nil || now.Before(*r.EndTime)
}

// HasParticipant reports whether id is already listed on the room.
func (r Room) HasParticipant(id string) bool {
	for _, p := range r.ParticipantIDs {
		if p == id {
			return true
		}
	}
	return false
}

// AnsweredQuestion links a completed question to its submission.
type AnsweredQuestion struct {
	QuestionID   string    `json:"questionId"`
	SubmissionID string    `json:"submissionId"`
	AnsweredAt   time.Time `json:"answeredAt"`
}

// Participant is one player's session within a room.
type Participant struct {
	ID           string             `json:"id"`
	RoomID       string             `json:"roomId"`
	QuizID       string             `json:"quizId"`
	Identity     Identity           `json:"identity"`
	DisplayName  string             `json:"displayName"`
	IsLoggedIn   bool               `json:"isLoggedIn"`
	ConnectionID string             `json:"-"`
	Remaining    []string           `json:"remainingQuestions"`
	Answered     []AnsweredQuestion `json:"answeredQuestions"`
	Score        int                `json:"score"`
	JoinedAt     time.Time          `json:"joinedAt"`
	LastActive   time.Time          `json:"lastActive"`
}

// Total is the size of the question set assigned at join.
func (p Participant) Total() int {
	return len(p.Remaining) + len(p.Answered)
}

// Pending reports whether questionID is still owed to the participant.
func (p Participant) Pending(questionID string) bool {
	for _, id := range p.Remaining {
		if id == questionID {
			return true
		}
	}
	return false
}

// AnsweredIDs returns the answered question ids in completion order.
func (p Participant) AnsweredIDs() []string {
	ids := make([]string, 0, len(p.Answered))
	for _, a := range p.Answered {
		ids = append(ids, a.QuestionID)
	}
	return ids
}

// Progress is answered/total in [0,1].
func (p Participant) Progress() float64 {
	total := p.Total()
	if total == 0 {
		return 0
	}
	return float64(len(p.Answered)) / float64(total)
}

// CurrentQuestion is the head of the queue, or the last answered question once
// the queue is empty.
func (p Participant) CurrentQuestion() string {
	if len(p.Remaining) > 0 {
		return p.Remaining[0]
	}
	if len(p.Answered) > 0 {
		return p.Answered[len(p.Answered)-1].QuestionID
	}
	return ""
}

// Submission is an immutable record of one answered question.
type Submission struct {
	ID            string          `json:"id"`
	ParticipantID string          `json:"participantId"`
	RoomID        string          `json:"roomId"`
	QuestionID    string          `json:"questionId"`
	QuestionType  QuestionType    `json:"questionType"`
	Answer        json.RawMessage `json:"answer"`
	IsCorrect     bool            `json:"isCorrect"`
	Score         int             `json:"score"`
	TimeToAnswer  time.Duration   `json:"timeToAnswerMs"`
	SubmittedAt   time.Time       `json:"submittedAt"`
}

// MarshalJSON reports TimeToAnswer in milliseconds.
func (s Submission) MarshalJSON() ([]byte, error) {
	type alias Submission
	return json.Marshal(struct {
		alias
		TimeToAnswer int64 `json:"timeToAnswerMs"`
	}{alias: alias(s), TimeToAnswer: s.TimeToAnswer.Milliseconds()})
}
