package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"exam-room-service/internal/broadcast"
	"exam-room-service/internal/domain"
	"github.com/google/uuid"
)

const (
	maxCodeAttempts    = 10
	maxDurationMinutes = 24 * 60
	defaultPageSize    = 20
	maxPageSize        = 100
)

// RoomService owns the room lifecycle. Every transition goes through
// RoomRepository.Update so the status check and the write are one unit.
type RoomService struct {
	deps Deps
}

func NewRoomService(deps Deps) *RoomService {
	return &RoomService{deps: deps.withDefaults()}
}

// CreateRoomInput is the host's create request.
type CreateRoomInput struct {
	QuizID          string     `json:"quizId"`
	Name            string     `json:"roomName"`
	DurationMinutes int        `json:"durationMinutes"`
	StartTime       *time.Time `json:"startTime,omitempty"`
}

// UpdateRoomInput carries optional edits; nil fields are left unchanged.
type UpdateRoomInput struct {
	QuizID          *string    `json:"quizId,omitempty"`
	Name            *string    `json:"roomName,omitempty"`
	DurationMinutes *int       `json:"durationMinutes,omitempty"`
	StartTime       *time.Time `json:"startTime,omitempty"`
	ClearStartTime  bool       `json:"clearStartTime,omitempty"`
}

// RoomPage is one page of a host's rooms.
type RoomPage struct {
	Rooms    []domain.Room `json:"rooms"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"pageSize"`
}

// Create schedules a new room. A start time turns on auto-start.
func (s *RoomService) Create(ctx context.Context, hostID string, in CreateRoomInput) (domain.Room, error) {
	if hostID == "" {
		return domain.Room{}, domain.ErrForbidden
	}
	if err := validateDuration(in.DurationMinutes); err != nil {
		return domain.Room{}, err
	}
	if err := s.requireQuiz(ctx, in.QuizID); err != nil {
		return domain.Room{}, err
	}

	now := s.deps.Now()
	room := domain.Room{
		ID:              uuid.NewString(),
		Name:            strings.TrimSpace(in.Name),
		QuizID:          in.QuizID,
		HostID:          hostID,
		Status:          domain.RoomScheduled,
		DurationMinutes: in.DurationMinutes,
		ParticipantIDs:  []string{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if in.StartTime != nil {
		start := in.StartTime.UTC()
		room.StartTime = &start
		room.AutoStart = true
		room.EndTime = room.ComputeEndTime()
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		room.Code = s.deps.NewCode()
		err := s.deps.Rooms.Create(ctx, room)
		if err == nil {
			return room, nil
		}
		if !errors.Is(err, domain.ErrCodeTaken) {
			return domain.Room{}, internal("create room", err)
		}
	}
	return domain.Room{}, domain.NewError(domain.CodeServerError, "could not allocate a unique room code")
}

// Get returns a room by id.
func (s *RoomService) Get(ctx context.Context, id string) (domain.Room, error) {
	room, err := s.deps.Rooms.Get(ctx, id)
	return room, internal("get room", err)
}

// GetByCode is the public lookup used before joining.
func (s *RoomService) GetByCode(ctx context.Context, code string) (domain.Room, error) {
	code = normalizeCode(code)
	if code == "" {
		return domain.Room{}, domain.NewError(domain.CodeValidation, "room code is required")
	}
	room, err := s.deps.Rooms.GetByCode(ctx, code)
	return room, internal("get room by code", err)
}

// List pages through the host's rooms, newest first.
func (s *RoomService) List(ctx context.Context, hostID string, status domain.RoomStatus, page, pageSize int) (RoomPage, error) {
	if status != "" && !status.Valid() {
		return RoomPage{}, domain.NewError(domain.CodeValidation, "unknown status %q", status)
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	rooms, total, err := s.deps.Rooms.ListByHost(ctx, RoomFilter{
		HostID: hostID,
		Status: status,
		Offset: (page - 1) * pageSize,
		Limit:  pageSize,
	})
	if err != nil {
		return RoomPage{}, internal("list rooms", err)
	}
	return RoomPage{Rooms: rooms, Total: total, Page: page, PageSize: pageSize}, nil
}

// Start activates a scheduled room on the host's request.
func (s *RoomService) Start(ctx context.Context, hostID, roomID string) (domain.Room, error) {
	return s.activate(ctx, roomID, func(r *domain.Room) error {
		return requireHost(r, hostID)
	})
}

// End completes an active room on the host's request.
func (s *RoomService) End(ctx context.Context, hostID, roomID string) (domain.Room, error) {
	return s.complete(ctx, roomID, func(r *domain.Room) error {
		return requireHost(r, hostID)
	})
}

// Cancel moves a scheduled or active room to cancelled.
func (s *RoomService) Cancel(ctx context.Context, hostID, roomID string) (domain.Room, error) {
	room, err := s.deps.Rooms.Update(ctx, roomID, func(r *domain.Room) error {
		if err := requireHost(r, hostID); err != nil {
			return err
		}
		if r.Status.Terminal() {
			return domain.ErrInvalidState
		}
		r.Status = domain.RoomCancelled
		r.UpdatedAt = s.deps.Now()
		return nil
	})
	if err != nil {
		return domain.Room{}, internal("cancel room", err)
	}
	s.deps.Events.Publish(ctx, broadcast.RoomChannel(room.ID), broadcast.Event{
		Type:    broadcast.EventRoomEnded,
		Payload: RoomEnded{RoomID: room.ID, Status: room.Status, EndTime: room.EndTime},
	})
	return room, nil
}

// Update edits a scheduled room. On an active room only the duration may change.
func (s *RoomService) Update(ctx context.Context, hostID, roomID string, in UpdateRoomInput) (domain.Room, error) {
	if in.QuizID != nil {
		if err := s.requireQuiz(ctx, *in.QuizID); err != nil {
			return domain.Room{}, err
		}
	}
	if in.DurationMinutes != nil {
		if err := validateDuration(*in.DurationMinutes); err != nil {
			return domain.Room{}, err
		}
	}

	current, err := s.deps.Rooms.Get(ctx, roomID)
	if err != nil {
		return domain.Room{}, internal("get room", err)
	}
	if err := requireHost(&current, hostID); err != nil {
		return domain.Room{}, err
	}
	if current.Status == domain.RoomActive {
		if in.DurationMinutes == nil || in.QuizID != nil || in.StartTime != nil || in.ClearStartTime || in.Name != nil {
			return domain.Room{}, domain.NewError(domain.CodeInvalidState, "only the duration of an active room can change")
		}
		return s.ExtendDuration(ctx, hostID, roomID, *in.DurationMinutes)
	}

	room, err := s.deps.Rooms.Update(ctx, roomID, func(r *domain.Room) error {
		if err := requireHost(r, hostID); err != nil {
			return err
		}
		if r.Status != domain.RoomScheduled {
			return domain.ErrInvalidState
		}
		if in.QuizID != nil {
			r.QuizID = *in.QuizID
		}
		if in.Name != nil {
			r.Name = strings.TrimSpace(*in.Name)
		}
		if in.DurationMinutes != nil {
			r.DurationMinutes = *in.DurationMinutes
		}
		if in.ClearStartTime {
			r.StartTime = nil
		}
		if in.StartTime != nil {
			start := in.StartTime.UTC()
			r.StartTime = &start
		}
		r.AutoStart = r.StartTime != nil
		r.EndTime = r.ComputeEndTime()
		r.UpdatedAt = s.deps.Now()
		return nil
	})
	return room, internal("update room", err)
}

// ExtendDuration changes an active room's duration, once per room. Reading
// the room, validating the new deadline and writing duration and end time
// happen in one Update so a concurrent extension cannot interleave.
func (s *RoomService) ExtendDuration(ctx context.Context, hostID, roomID string, minutes int) (domain.Room, error) {
	if err := validateDuration(minutes); err != nil {
		return domain.Room{}, err
	}
	room, err := s.deps.Rooms.Update(ctx, roomID, func(r *domain.Room) error {
		if err := requireHost(r, hostID); err != nil {
			return err
		}
		if r.Status != domain.RoomActive || r.StartTime == nil {
			return domain.ErrInvalidState
		}
		if r.Extended {
			return domain.NewError(domain.CodeInvalidState, "room duration was already extended")
		}
		now := s.deps.Now()
		end := r.StartTime.Add(time.Duration(minutes) * time.Minute)
		if !end.After(now) {
			return domain.NewError(domain.CodeValidation, "new end time must be in the future")
		}
		r.DurationMinutes = minutes
		r.EndTime = &end
		r.Extended = true
		r.UpdatedAt = now
		return nil
	})
	if err != nil {
		return domain.Room{}, internal("extend room", err)
	}
	s.deps.Events.Publish(ctx, broadcast.RoomChannel(room.ID), broadcast.Event{
		Type:    broadcast.EventRoomTimeUpdated,
		Payload: RoomTimeUpdated{RoomID: room.ID, EndTime: *room.EndTime},
	})
	return room, nil
}

// Delete cancels the room first so no join or submit can start against it,
// then removes participants and submissions before the room itself. If a
// child removal fails the room record is kept, cancelled.
func (s *RoomService) Delete(ctx context.Context, hostID, roomID string) error {
	var prior domain.RoomStatus
	room, err := s.deps.Rooms.Update(ctx, roomID, func(r *domain.Room) error {
		if err := requireHost(r, hostID); err != nil {
			return err
		}
		prior = r.Status
		if !r.Status.Terminal() {
			r.Status = domain.RoomCancelled
			r.UpdatedAt = s.deps.Now()
		}
		return nil
	})
	if err != nil {
		return internal("close room", err)
	}
	if prior == domain.RoomScheduled || prior == domain.RoomActive {
		s.deps.Events.Publish(ctx, broadcast.RoomChannel(room.ID), broadcast.Event{
			Type:    broadcast.EventRoomEnded,
			Payload: RoomEnded{RoomID: room.ID, Status: domain.RoomCancelled, EndTime: room.EndTime},
		})
	}

	// Participants go first: RecordAnswer fails once its participant is gone,
	// so an answer that read the room before it closed is caught by the
	// submission delete or not written at all.
	if err := s.purgeChildren(ctx, roomID); err != nil {
		return err
	}
	if err := s.deps.Rooms.Delete(ctx, roomID); err != nil {
		return internal("delete room", err)
	}
	// A join that saw the room open may have inserted its participant after
	// the first purge.
	return s.purgeChildren(ctx, roomID)
}

func (s *RoomService) purgeChildren(ctx context.Context, roomID string) error {
	if err := s.deps.Participants.DeleteByRoom(ctx, roomID); err != nil {
		return internal("delete participants", err)
	}
	if err := s.deps.Submissions.DeleteByRoom(ctx, roomID); err != nil {
		return internal("delete submissions", err)
	}
	return nil
}

// Dashboard is the host's live view of a room.
type Dashboard struct {
	Room         domain.Room `json:"room"`
	Participants []Snapshot  `json:"participants"`
}

// Dashboard returns the roster for join-room-manager.
func (s *RoomService) Dashboard(ctx context.Context, hostID, roomID string) (Dashboard, error) {
	room, err := s.deps.Rooms.Get(ctx, roomID)
	if err != nil {
		return Dashboard{}, internal("get room", err)
	}
	if err := requireHost(&room, hostID); err != nil {
		return Dashboard{}, err
	}
	participants, err := s.deps.Participants.ListByRoom(ctx, roomID)
	if err != nil {
		return Dashboard{}, internal("list participants", err)
	}
	out := Dashboard{Room: room, Participants: make([]Snapshot, 0, len(participants))}
	for _, p := range participants {
		out.Participants = append(out.Participants, snapshotOf(p))
	}
	return out, nil
}

// activate runs scheduled→active. guard runs inside the atomic update before
// any field changes. The actual start is stamped as StartTime so the end time
// stays StartTime + duration.
func (s *RoomService) activate(ctx context.Context, roomID string, guard func(*domain.Room) error) (domain.Room, error) {
	room, err := s.deps.Rooms.Update(ctx, roomID, func(r *domain.Room) error {
		if err := guard(r); err != nil {
			return err
		}
		if r.Status != domain.RoomScheduled {
			return domain.ErrInvalidState
		}
		now := s.deps.Now()
		r.StartTime = &now
		r.EndTime = r.ComputeEndTime()
		r.Status = domain.RoomActive
		r.LastActivationCheck = &now
		r.UpdatedAt = now
		return nil
	})
	if err != nil {
		return domain.Room{}, internal("activate room", err)
	}
	s.publishRoom(ctx, broadcast.EventRoomActivated, room)
	return room, nil
}

// complete runs active→completed.
func (s *RoomService) complete(ctx context.Context, roomID string, guard func(*domain.Room) error) (domain.Room, error) {
	room, err := s.deps.Rooms.Update(ctx, roomID, func(r *domain.Room) error {
		if err := guard(r); err != nil {
			return err
		}
		if r.Status != domain.RoomActive {
			return domain.ErrInvalidState
		}
		r.Status = domain.RoomCompleted
		r.UpdatedAt = s.deps.Now()
		return nil
	})
	if err != nil {
		return domain.Room{}, internal("complete room", err)
	}
	s.publishRoom(ctx, broadcast.EventRoomCompleted, room)
	s.deps.Events.Publish(ctx, broadcast.RoomChannel(room.ID), broadcast.Event{
		Type:    broadcast.EventRoomEnded,
		Payload: RoomEnded{RoomID: room.ID, Status: room.Status, EndTime: room.EndTime},
	})
	return room, nil
}

func (s *RoomService) publishRoom(ctx context.Context, eventType string, room domain.Room) {
	ev := broadcast.Event{Type: eventType, Payload: RoomChanged{Room: room}}
	s.deps.Events.Publish(ctx, broadcast.HostChannel(room.HostID), ev)
	s.deps.Events.Publish(ctx, broadcast.RoomChannel(room.ID), ev)
}

func (s *RoomService) requireQuiz(ctx context.Context, quizID string) error {
	if strings.TrimSpace(quizID) == "" {
		return domain.NewError(domain.CodeValidation, "quiz id is required")
	}
	quiz, err := s.deps.Quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return internal("load quiz", err)
	}
	if len(quiz.Questions) == 0 {
		return domain.NewError(domain.CodeValidation, "quiz has no questions")
	}
	return nil
}

func requireHost(r *domain.Room, hostID string) error {
	if hostID == "" || r.HostID != hostID {
		return domain.ErrForbidden
	}
	return nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func validateDuration(minutes int) error {
	if minutes < 1 || minutes > maxDurationMinutes {
		return domain.NewError(domain.CodeValidation, "durationMinutes must be between 1 and %d", maxDurationMinutes)
	}
	return nil
}
