package app

import (
	"context"
	"sort"
	"time"

	"exam-room-service/internal/domain"
)

// LeaderboardEntry is one ranked participant.
type LeaderboardEntry struct {
	Rank          int       `json:"rank"`
	ParticipantID string    `json:"participantId"`
	DisplayName   string    `json:"displayName"`
	Score         int       `json:"score"`
	Answered      int       `json:"answered"`
	Total         int       `json:"total"`
	LastAnswerAt  time.Time `json:"lastAnswerAt,omitempty"`
}

// QuestionStats aggregates correctness for one question.
type QuestionStats struct {
	QuestionID        string              `json:"questionId"`
	Prompt            string              `json:"prompt"`
	Type              domain.QuestionType `json:"type"`
	Attempts          int                 `json:"attempts"`
	Correct           int                 `json:"correct"`
	CorrectRate       float64             `json:"correctRate"`
	AvgTimeToAnswerMs int64               `json:"avgTimeToAnswerMs"`
}

// Results is the host-only summary of a room.
type Results struct {
	Room        domain.Room        `json:"room"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
	Questions   []QuestionStats    `json:"questions"`
}

// Results builds the leaderboard and per-question statistics.
func (s *RoomService) Results(ctx context.Context, hostID, roomID string) (Results, error) {
	room, err := s.deps.Rooms.Get(ctx, roomID)
	if err != nil {
		return Results{}, internal("get room", err)
	}
	if err := requireHost(&room, hostID); err != nil {
		return Results{}, err
	}
	quiz, err := s.deps.Quizzes.GetQuiz(ctx, room.QuizID)
	if err != nil {
		return Results{}, internal("load quiz", err)
	}
	participants, err := s.deps.Participants.ListByRoom(ctx, roomID)
	if err != nil {
		return Results{}, internal("list participants", err)
	}
	subs, err := s.deps.Submissions.ListByRoom(ctx, roomID)
	if err != nil {
		return Results{}, internal("list submissions", err)
	}
	return Results{
		Room:        room,
		Leaderboard: leaderboard(participants),
		Questions:   questionStats(quiz, subs),
	}, nil
}

// leaderboard orders by score desc, then who reached it first, then name.
func leaderboard(participants []domain.Participant) []LeaderboardEntry {
	entries := make([]LeaderboardEntry, 0, len(participants))
	for _, p := range participants {
		entry := LeaderboardEntry{
			ParticipantID: p.ID,
			DisplayName:   p.DisplayName,
			Score:         p.Score,
			Answered:      len(p.Answered),
			Total:         p.Total(),
		}
		if n := len(p.Answered); n > 0 {
			entry.LastAnswerAt = p.Answered[n-1].AnsweredAt
		}
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		ti, tj := entries[i].LastAnswerAt, entries[j].LastAnswerAt
		if !ti.Equal(tj) {
			if ti.IsZero() || tj.IsZero() {
				return tj.IsZero()
			}
			return ti.Before(tj)
		}
		return entries[i].DisplayName < entries[j].DisplayName
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

func questionStats(quiz domain.Quiz, subs []domain.Submission) []QuestionStats {
	type acc struct {
		attempts, correct int
		elapsed           time.Duration
	}
	byQuestion := make(map[string]*acc, len(quiz.Questions))
	for _, sub := range subs {
		a, ok := byQuestion[sub.QuestionID]
		if !ok {
			a = &acc{}
			byQuestion[sub.QuestionID] = a
		}
		a.attempts++
		if sub.IsCorrect {
			a.correct++
		}
		a.elapsed += sub.TimeToAnswer
	}

	stats := make([]QuestionStats, 0, len(quiz.Questions))
	for _, q := range quiz.Questions {
		st := QuestionStats{QuestionID: q.ID, Prompt: q.Prompt, Type: q.Type}
		if a, ok := byQuestion[q.ID]; ok && a.attempts > 0 {
			st.Attempts = a.attempts
			st.Correct = a.correct
			st.CorrectRate = float64(a.correct) / float64(a.attempts)
			st.AvgTimeToAnswerMs = (a.elapsed / time.Duration(a.attempts)).Milliseconds()
		}
		stats = append(stats, st)
	}
	return stats
}
