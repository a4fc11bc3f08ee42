package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"exam-room-service/internal/app"
	"exam-room-service/internal/broadcast"
	"exam-room-service/internal/domain"
)

func TestCreateRoomComputesEndTime(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	start := f.clock.Now().Add(time.Hour)

	room, err := f.rooms.Create(ctx, "host", app.CreateRoomInput{QuizID: "quiz-1", DurationMinutes: 45, StartTime: &start})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if room.Status != domain.RoomScheduled || !room.AutoStart || len(room.Code) != 6 {
		t.Fatalf("unexpected room %+v", room)
	}
	if room.EndTime == nil || !room.EndTime.Equal(start.Add(45*time.Minute)) {
		t.Fatalf("expected end time start+45m, got %v", room.EndTime)
	}
}

func TestCreateRoomRetriesCodeCollisions(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	codes := []string{"DUPE00", "DUPE00", "DUPE00", "FRESH1"}
	f.deps.NewCode = func() string {
		c := codes[0]
		codes = codes[1:]
		return c
	}
	rooms := app.NewRoomService(f.deps)

	first, err := rooms.Create(ctx, "host", app.CreateRoomInput{QuizID: "quiz-1", DurationMinutes: 10})
	if err != nil || first.Code != "DUPE00" {
		t.Fatalf("first create: %+v %v", first, err)
	}
	second, err := rooms.Create(ctx, "host", app.CreateRoomInput{QuizID: "quiz-1", DurationMinutes: 10})
	if err != nil || second.Code != "FRESH1" {
		t.Fatalf("expected retry to find FRESH1, got %+v %v", second, err)
	}
}

func TestCreateRoomValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	cases := map[string]app.CreateRoomInput{
		"zero duration": {QuizID: "quiz-1"},
		"too long":      {QuizID: "quiz-1", DurationMinutes: 24*60 + 1},
		"missing quiz":  {DurationMinutes: 10},
	}
	for name, in := range cases {
		if _, err := f.rooms.Create(ctx, "host", in); domain.CodeOf(err) != domain.CodeValidation {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
	if _, err := f.rooms.Create(ctx, "host", app.CreateRoomInput{QuizID: "nope", DurationMinutes: 10}); domain.CodeOf(err) != domain.CodeNotFound {
		t.Fatalf("expected unknown quiz to be not found, got %v", err)
	}
}

func TestStateMachineLegality(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	room, _ := f.rooms.Create(ctx, "host", app.CreateRoomInput{QuizID: "quiz-1", DurationMinutes: 30})

	if _, err := f.rooms.Start(ctx, "intruder", room.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden for non-host start, got %v", err)
	}
	if _, err := f.rooms.End(ctx, "host", room.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state completing a scheduled room, got %v", err)
	}

	active, err := f.rooms.Start(ctx, "host", room.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.rooms.Start(ctx, "host", room.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected invalid state starting an active room, got %v", err)
	}
	// Forbidden wins over invalid state.
	if _, err := f.rooms.Start(ctx, "intruder", room.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden before state check, got %v", err)
	}

	if !active.StartTime.Equal(f.clock.Now()) || !active.EndTime.Equal(f.clock.Now().Add(30*time.Minute)) {
		t.Fatalf("unexpected window %v - %v", active.StartTime, active.EndTime)
	}
	if f.events.count(broadcast.RoomChannel(room.ID), broadcast.EventRoomActivated) != 1 ||
		f.events.count(broadcast.HostChannel("host"), broadcast.EventRoomActivated) != 1 {
		t.Fatalf("expected room-activated on room and host channels")
	}

	ended, err := f.rooms.End(ctx, "host", room.ID)
	if err != nil || ended.Status != domain.RoomCompleted {
		t.Fatalf("end: %+v %v", ended, err)
	}
	if _, err := f.rooms.Cancel(ctx, "host", room.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected completed room to reject cancel, got %v", err)
	}
	if f.events.count(broadcast.RoomChannel(room.ID), broadcast.EventRoomEnded) != 1 {
		t.Fatalf("expected room-ended after completion")
	}
}

func TestCancelBroadcastsRoomEnded(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	room, _ := f.rooms.Create(ctx, "host", app.CreateRoomInput{QuizID: "quiz-1", DurationMinutes: 30})

	cancelled, err := f.rooms.Cancel(ctx, "host", room.ID)
	if err != nil || cancelled.Status != domain.RoomCancelled {
		t.Fatalf("cancel: %+v %v", cancelled, err)
	}
	if f.events.count(broadcast.RoomChannel(room.ID), broadcast.EventRoomEnded) != 1 {
		t.Fatalf("expected room-ended on cancel")
	}
	if _, err := f.rooms.Start(ctx, "host", room.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("cancelled room must not start, got %v", err)
	}
}

func TestUpdateOnlyWhileScheduled(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	room, _ := f.rooms.Create(ctx, "host", app.CreateRoomInput{QuizID: "quiz-1", DurationMinutes: 30})

	start := f.clock.Now().Add(2 * time.Hour)
	minutes := 60
	updated, err := f.rooms.Update(ctx, "host", room.ID, app.UpdateRoomInput{StartTime: &start, DurationMinutes: &minutes})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.AutoStart || !updated.EndTime.Equal(start.Add(time.Hour)) {
		t.Fatalf("expected auto start with end time recomputed, got %+v", updated)
	}

	if _, err := f.rooms.Update(ctx, "other", room.ID, app.UpdateRoomInput{DurationMinutes: &minutes}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden update, got %v", err)
	}

	_, _ = f.rooms.Start(ctx, "host", room.ID)
	name := "renamed"
	if _, err := f.rooms.Update(ctx, "host", room.ID, app.UpdateRoomInput{Name: &name}); domain.CodeOf(err) != domain.CodeInvalidState {
		t.Fatalf("expected invalid state renaming active room, got %v", err)
	}
	longer := 90
	extended, err := f.rooms.Update(ctx, "host", room.ID, app.UpdateRoomInput{DurationMinutes: &longer})
	if err != nil || extended.DurationMinutes != 90 {
		t.Fatalf("expected duration change on active room, got %+v %v", extended, err)
	}
}

func TestExtendDurationRejectsPastDeadline(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	room := f.activeRoom(ctx)
	f.clock.Advance(20 * time.Minute)

	if _, err := f.rooms.ExtendDuration(ctx, "host", room.ID, 15); domain.CodeOf(err) != domain.CodeValidation {
		t.Fatalf("expected validation error for end time in the past, got %v", err)
	}
	extended, err := f.rooms.ExtendDuration(ctx, "host", room.ID, 45)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if !extended.EndTime.Equal(extended.StartTime.Add(45 * time.Minute)) {
		t.Fatalf("end time must equal start + duration, got %v", extended.EndTime)
	}
	if f.events.count(broadcast.RoomChannel(room.ID), broadcast.EventRoomTimeUpdated) != 1 {
		t.Fatalf("expected room-time-updated")
	}
}

func TestExtendDurationOnlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	room := f.activeRoom(ctx)

	first, err := f.rooms.ExtendDuration(ctx, "host", room.ID, 40)
	if err != nil || !first.Extended {
		t.Fatalf("first extension: %+v %v", first, err)
	}
	if _, err := f.rooms.ExtendDuration(ctx, "host", room.ID, 50); domain.CodeOf(err) != domain.CodeInvalidState {
		t.Fatalf("expected invalid state on second extension, got %v", err)
	}
	longer := 60
	if _, err := f.rooms.Update(ctx, "host", room.ID, app.UpdateRoomInput{DurationMinutes: &longer}); domain.CodeOf(err) != domain.CodeInvalidState {
		t.Fatalf("expected update to respect the single extension, got %v", err)
	}
	stored, _ := f.rooms.Get(ctx, room.ID)
	if stored.DurationMinutes != 40 || !stored.EndTime.Equal(stored.StartTime.Add(40*time.Minute)) {
		t.Fatalf("second extension must not change the window, got %+v", stored)
	}
	if f.events.count(broadcast.RoomChannel(room.ID), broadcast.EventRoomTimeUpdated) != 1 {
		t.Fatalf("expected a single room-time-updated")
	}
}

func TestDeleteCascades(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	room := f.activeRoom(ctx)

	for _, user := range []string{"u1", "u2", "u3"} {
		joined, err := f.sessions.Join(ctx, app.JoinRequest{RoomCode: room.Code, Identity: domain.Authenticated(user)})
		if err != nil {
			t.Fatalf("join %s: %v", user, err)
		}
		if _, err := f.submissions.Submit(ctx, app.SubmitRequest{
			ParticipantID: joined.Participant.ID,
			QuestionID:    "q2",
			Answer:        json.RawMessage(`"Hanoi"`),
		}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	if err := f.rooms.Delete(ctx, "intruder", room.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden delete, got %v", err)
	}
	if err := f.rooms.Delete(ctx, "host", room.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	people, _ := f.store.Participants().ListByRoom(ctx, room.ID)
	subs, _ := f.store.Submissions().ListByRoom(ctx, room.ID)
	if len(people) != 0 || len(subs) != 0 {
		t.Fatalf("expected no children left, got %d participants %d submissions", len(people), len(subs))
	}
	if _, err := f.rooms.Get(ctx, room.ID); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected room gone, got %v", err)
	}
}

type failingSubmissions struct {
	app.SubmissionRepository
}

func (failingSubmissions) DeleteByRoom(context.Context, string) error {
	return errors.New("disk full")
}

func TestDeleteKeepsRoomWhenChildRemovalFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	room := f.activeRoom(ctx)

	deps := f.deps
	deps.Submissions = failingSubmissions{SubmissionRepository: f.store.Submissions()}
	rooms := app.NewRoomService(deps)

	err := rooms.Delete(ctx, "host", room.ID)
	if domain.CodeOf(err) != domain.CodeServerError {
		t.Fatalf("expected server error, got %v", err)
	}
	if _, err := f.rooms.Get(ctx, room.ID); err != nil {
		t.Fatalf("room must remain after failed cascade: %v", err)
	}
}

type hookedParticipants struct {
	app.ParticipantRepository
	beforeDelete func()
}

func (h *hookedParticipants) DeleteByRoom(ctx context.Context, roomID string) error {
	if h.beforeDelete != nil {
		h.beforeDelete()
		h.beforeDelete = nil
	}
	return h.ParticipantRepository.DeleteByRoom(ctx, roomID)
}

func TestDeleteClosesRoomBeforeRemovingChildren(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	room := f.activeRoom(ctx)
	joined, err := f.sessions.Join(ctx, app.JoinRequest{RoomCode: room.Code, Identity: domain.Authenticated("u1")})
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	var submitErr, joinErr error
	deps := f.deps
	deps.Participants = &hookedParticipants{
		ParticipantRepository: f.store.Participants(),
		beforeDelete: func() {
			_, submitErr = f.submissions.Submit(ctx, app.SubmitRequest{
				ParticipantID: joined.Participant.ID,
				QuestionID:    "q2",
				Answer:        json.RawMessage(`"Hanoi"`),
			})
			_, joinErr = f.sessions.Join(ctx, app.JoinRequest{RoomCode: room.Code, Identity: domain.Authenticated("u2")})
		},
	}
	if err := app.NewRoomService(deps).Delete(ctx, "host", room.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if !errors.Is(submitErr, domain.ErrRoomNotOpen) || !errors.Is(joinErr, domain.ErrRoomNotOpen) {
		t.Fatalf("expected the closing room to refuse work, got submit=%v join=%v", submitErr, joinErr)
	}
	people, _ := f.store.Participants().ListByRoom(ctx, room.ID)
	subs, _ := f.store.Submissions().ListByRoom(ctx, room.ID)
	if len(people) != 0 || len(subs) != 0 {
		t.Fatalf("expected no children left, got %d participants %d submissions", len(people), len(subs))
	}
	if f.events.count(broadcast.RoomChannel(room.ID), broadcast.EventRoomEnded) != 1 {
		t.Fatalf("expected room-ended for the deleted room")
	}
}

// staleRooms hands out a room as it was read, then deletes it before the
// caller continues.
type staleRooms struct {
	app.RoomRepository
	remove func(roomID string)
}

func (s staleRooms) Get(ctx context.Context, id string) (domain.Room, error) {
	room, err := s.RoomRepository.Get(ctx, id)
	if err == nil {
		s.remove(room.ID)
	}
	return room, err
}

func (s staleRooms) GetByCode(ctx context.Context, code string) (domain.Room, error) {
	room, err := s.RoomRepository.GetByCode(ctx, code)
	if err == nil {
		s.remove(room.ID)
	}
	return room, err
}

func TestWorkStartedBeforeDeleteLeavesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	answered := f.activeRoom(ctx)
	joinedRoom := f.activeRoom(ctx)
	joined, err := f.sessions.Join(ctx, app.JoinRequest{RoomCode: answered.Code, Identity: domain.Authenticated("u1")})
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	deps := f.deps
	deps.Rooms = staleRooms{RoomRepository: f.store, remove: func(roomID string) {
		if err := f.rooms.Delete(ctx, "host", roomID); err != nil {
			t.Errorf("delete %s: %v", roomID, err)
		}
	}}

	_, err = app.NewSubmissionService(deps).Submit(ctx, app.SubmitRequest{
		ParticipantID: joined.Participant.ID,
		QuestionID:    "q2",
		Answer:        json.RawMessage(`"Hanoi"`),
	})
	if !errors.Is(err, domain.ErrParticipantNotFound) {
		t.Fatalf("expected the answer to miss its deleted participant, got %v", err)
	}

	_, err = app.NewSessionService(deps).Join(ctx, app.JoinRequest{RoomCode: joinedRoom.Code, Identity: domain.Authenticated("u2")})
	if !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected the join to find the room gone, got %v", err)
	}

	for _, id := range []string{answered.ID, joinedRoom.ID} {
		people, _ := f.store.Participants().ListByRoom(ctx, id)
		subs, _ := f.store.Submissions().ListByRoom(ctx, id)
		if len(people) != 0 || len(subs) != 0 {
			t.Fatalf("room %s left %d participants %d submissions", id, len(people), len(subs))
		}
	}
}

func TestListAndLookup(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	room, _ := f.rooms.Create(ctx, "host", app.CreateRoomInput{QuizID: "quiz-1", DurationMinutes: 30})
	_ = f.activeRoom(ctx)

	page, err := f.rooms.List(ctx, "host", domain.RoomScheduled, 1, 0)
	if err != nil || page.Total != 1 || page.PageSize != 20 || page.Rooms[0].ID != room.ID {
		t.Fatalf("unexpected page %+v %v", page, err)
	}
	if _, err := f.rooms.List(ctx, "host", "bogus", 1, 10); domain.CodeOf(err) != domain.CodeValidation {
		t.Fatalf("expected bad status filter to fail validation, got %v", err)
	}

	byCode, err := f.rooms.GetByCode(ctx, " "+strings.ToLower(room.Code))
	if err != nil || byCode.ID != room.ID {
		t.Fatalf("expected case-insensitive code lookup, got %+v %v", byCode, err)
	}
}

func TestResultsLeaderboardAndStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	room := f.activeRoom(ctx)

	alice, _ := f.sessions.Join(ctx, app.JoinRequest{RoomCode: room.Code, Identity: domain.Authenticated("alice")})
	bob, _ := f.sessions.Join(ctx, app.JoinRequest{RoomCode: room.Code, Identity: domain.Anonymous("Bob", "dev-1")})

	submit := func(pid, qid, answer string) {
		t.Helper()
		if _, err := f.submissions.Submit(ctx, app.SubmitRequest{ParticipantID: pid, QuestionID: qid, Answer: json.RawMessage(answer)}); err != nil {
			t.Fatalf("submit %s: %v", qid, err)
		}
	}
	submit(bob.Participant.ID, "q1", `"Paris"`)
	f.clock.Advance(time.Second)
	submit(alice.Participant.ID, "q1", `"London"`)
	submit(alice.Participant.ID, "q2", `"hanoi"`)

	if _, err := f.rooms.Results(ctx, "alice", room.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("results must be host-only, got %v", err)
	}
	res, err := f.rooms.Results(ctx, "host", room.ID)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if len(res.Leaderboard) != 2 || res.Leaderboard[0].DisplayName != "Bob" || res.Leaderboard[0].Score != 5 {
		t.Fatalf("unexpected leaderboard %+v", res.Leaderboard)
	}
	if res.Leaderboard[1].Score != 2 || res.Leaderboard[1].Rank != 2 {
		t.Fatalf("unexpected runner-up %+v", res.Leaderboard[1])
	}
	q1 := res.Questions[0]
	if q1.QuestionID != "q1" || q1.Attempts != 2 || q1.Correct != 1 || q1.CorrectRate != 0.5 {
		t.Fatalf("unexpected q1 stats %+v", q1)
	}
	if res.Questions[3].Attempts != 0 {
		t.Fatalf("expected unanswered q4, got %+v", res.Questions[3])
	}
}
