package app

import (
	"time"

	"exam-room-service/internal/domain"
)

// Snapshot is the resumable view of one participant's progress. It is the
// payload of questions-updated and the reply to status pulls.
type Snapshot struct {
	ParticipantID   string   `json:"participantId"`
	RoomID          string   `json:"roomId"`
	Remaining       []string `json:"remaining"`
	Answered        []string `json:"answered"`
	CurrentQuestion string   `json:"currentQuestion,omitempty"`
	Progress        float64  `json:"progress"`
	Score           int      `json:"score"`
	Total           int      `json:"total"`
	Connected       bool     `json:"connected"`
}

func snapshotOf(p domain.Participant) Snapshot {
	return Snapshot{
		ParticipantID:   p.ID,
		RoomID:          p.RoomID,
		Remaining:       append([]string{}, p.Remaining...),
		Answered:        p.AnsweredIDs(),
		CurrentQuestion: p.CurrentQuestion(),
		Progress:        p.Progress(),
		Score:           p.Score,
		Total:           p.Total(),
		Connected:       p.ConnectionID != "",
	}
}

// ParticipantJoined is pushed to the room channel when a participant joins or reconnects.
type ParticipantJoined struct {
	Participant domain.Participant `json:"participant"`
	RoomID      string             `json:"roomId"`
	Reconnected bool               `json:"reconnected"`
}

// ParticipantLeft is pushed to the room channel when a connection drops.
type ParticipantLeft struct {
	ParticipantID string `json:"participantId"`
	RoomID        string `json:"roomId"`
}

// RoomTimeUpdated is pushed when an active room's window is extended.
type RoomTimeUpdated struct {
	RoomID  string    `json:"roomId"`
	EndTime time.Time `json:"endTime"`
}

// RoomChanged carries room-activated and room-completed.
type RoomChanged struct {
	Room domain.Room `json:"room"`
}

// RoomEnded tells occupants the room is closed for answers.
type RoomEnded struct {
	RoomID  string            `json:"roomId"`
	Status  domain.RoomStatus `json:"status"`
	EndTime *time.Time        `json:"endTime,omitempty"`
}
