package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"exam-room-service/internal/app"
	"exam-room-service/internal/domain"
)

// Store is an in-memory implementation of the room, participant and
// submission repositories. One mutex covers all three so RecordAnswer can
// write a submission and a participant as a single unit.
type Store struct {
	mu sync.RWMutex

	rooms  map[string]domain.Room
	codes  map[string]string // code -> room id
	people map[string]domain.Participant
	// identity index: room id + identity key -> participant id
	identities  map[string]string
	connections map[string]string // connection id -> participant id
	submissions map[string]domain.Submission
	subOrder    []string
}

var (
	_ app.RoomRepository        = (*Store)(nil)
	_ app.ParticipantRepository = (*ParticipantStore)(nil)
	_ app.SubmissionRepository  = (*SubmissionStore)(nil)
)

func NewStore() *Store {
	return &Store{
		rooms:       make(map[string]domain.Room),
		codes:       make(map[string]string),
		people:      make(map[string]domain.Participant),
		identities:  make(map[string]string),
		connections: make(map[string]string),
		submissions: make(map[string]domain.Submission),
	}
}

// ParticipantStore and SubmissionStore are views over the same Store; they
// exist because the repositories share method names.
type (
	ParticipantStore struct{ s *Store }
	SubmissionStore  struct{ s *Store }
)

func (s *Store) Participants() *ParticipantStore { return &ParticipantStore{s: s} }
func (s *Store) Submissions() *SubmissionStore   { return &SubmissionStore{s: s} }

// --- rooms ---

func (s *Store) Create(_ context.Context, room domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.codes[room.Code]; taken {
		return domain.ErrCodeTaken
	}
	s.rooms[room.ID] = cloneRoom(room)
	s.codes[room.Code] = room.ID
	return nil
}

func (s *Store) Get(_ context.Context, id string) (domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[id]
	if !ok {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	return cloneRoom(room), nil
}

func (s *Store) GetByCode(ctx context.Context, code string) (domain.Room, error) {
	s.mu.RLock()
	id, ok := s.codes[code]
	s.mu.RUnlock()
	if !ok {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	return s.Get(ctx, id)
}

func (s *Store) ListByHost(_ context.Context, filter app.RoomFilter) ([]domain.Room, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]domain.Room, 0)
	for _, room := range s.rooms {
		if room.HostID != filter.HostID {
			continue
		}
		if filter.Status != "" && room.Status != filter.Status {
			continue
		}
		matched = append(matched, room)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	total := len(matched)
	start := min(filter.Offset, total)
	end := total
	if filter.Limit > 0 {
		end = min(start+filter.Limit, total)
	}
	page := make([]domain.Room, 0, end-start)
	for _, room := range matched[start:end] {
		page = append(page, cloneRoom(room))
	}
	return page, total, nil
}

// Update runs fn on a copy under the write lock and stores it only when fn
// succeeds.
func (s *Store) Update(_ context.Context, id string, fn func(*domain.Room) error) (domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	next := cloneRoom(room)
	if err := fn(&next); err != nil {
		return domain.Room{}, err
	}
	s.rooms[id] = cloneRoom(next)
	return next, nil
}

func (s *Store) AddParticipant(_ context.Context, roomID, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	if room.HasParticipant(participantID) {
		return nil
	}
	room = cloneRoom(room)
	room.ParticipantIDs = append(room.ParticipantIDs, participantID)
	s.rooms[roomID] = room
	return nil
}

func (s *Store) DueForActivation(_ context.Context, now, cutoff time.Time) ([]domain.Room, error) {
	return s.filterRooms(func(r domain.Room) bool {
		return r.Status == domain.RoomScheduled && r.AutoStart &&
			r.StartTime != nil && !r.StartTime.After(now) &&
			(r.LastActivationCheck == nil || r.LastActivationCheck.Before(cutoff))
	}), nil
}

func (s *Store) DueForCompletion(_ context.Context, now time.Time) ([]domain.Room, error) {
	return s.filterRooms(func(r domain.Room) bool {
		return r.Status == domain.RoomActive && r.EndTime != nil && !r.EndTime.After(now)
	}), nil
}

func (s *Store) filterRooms(match func(domain.Room) bool) []domain.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Room, 0)
	for _, r := range s.rooms {
		if match(r) {
			out = append(out, cloneRoom(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[id]
	if !ok {
		return domain.ErrRoomNotFound
	}
	delete(s.codes, room.Code)
	delete(s.rooms, id)
	return nil
}

// --- participants ---

func (p *ParticipantStore) CreateOrGet(_ context.Context, participant domain.Participant) (domain.Participant, bool, error) {
	s := p.s
	s.mu.Lock()
	defer s.mu.Unlock()
	key := identityKey(participant.RoomID, participant.Identity)
	if id, ok := s.identities[key]; ok {
		return cloneParticipant(s.people[id]), false, nil
	}
	s.people[participant.ID] = cloneParticipant(participant)
	s.identities[key] = participant.ID
	if participant.ConnectionID != "" {
		s.connections[participant.ConnectionID] = participant.ID
	}
	return cloneParticipant(participant), true, nil
}

func (p *ParticipantStore) Get(_ context.Context, id string) (domain.Participant, error) {
	s := p.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	participant, ok := s.people[id]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return cloneParticipant(participant), nil
}

func (p *ParticipantStore) FindByIdentity(_ context.Context, roomID string, identity domain.Identity) (domain.Participant, error) {
	s := p.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.identities[identityKey(roomID, identity)]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return cloneParticipant(s.people[id]), nil
}

func (p *ParticipantStore) ListByRoom(_ context.Context, roomID string) ([]domain.Participant, error) {
	s := p.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Participant, 0)
	for _, participant := range s.people {
		if participant.RoomID == roomID {
			out = append(out, cloneParticipant(participant))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (p *ParticipantStore) Attach(_ context.Context, id, connectionID string, now time.Time) (domain.Participant, error) {
	s := p.s
	s.mu.Lock()
	defer s.mu.Unlock()
	participant, ok := s.people[id]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if participant.ConnectionID != "" {
		delete(s.connections, participant.ConnectionID)
	}
	participant.ConnectionID = connectionID
	participant.LastActive = now
	s.people[id] = participant
	s.connections[connectionID] = id
	return cloneParticipant(participant), nil
}

func (p *ParticipantStore) Detach(_ context.Context, connectionID string, now time.Time) (domain.Participant, bool, error) {
	s := p.s
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.connections[connectionID]
	if !ok {
		return domain.Participant{}, false, nil
	}
	delete(s.connections, connectionID)
	participant, ok := s.people[id]
	if !ok {
		return domain.Participant{}, false, nil
	}
	participant.ConnectionID = ""
	participant.LastActive = now
	s.people[id] = participant
	return cloneParticipant(participant), true, nil
}

func (p *ParticipantStore) RecordAnswer(_ context.Context, sub domain.Submission) (domain.Participant, error) {
	s := p.s
	s.mu.Lock()
	defer s.mu.Unlock()
	participant, ok := s.people[sub.ParticipantID]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	idx := -1
	for i, qid := range participant.Remaining {
		if qid == sub.QuestionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.Participant{}, domain.ErrInvalidQuestion
	}

	next := cloneParticipant(participant)
	next.Remaining = append(next.Remaining[:idx], next.Remaining[idx+1:]...)
	next.Answered = append(next.Answered, domain.AnsweredQuestion{
		QuestionID:   sub.QuestionID,
		SubmissionID: sub.ID,
		AnsweredAt:   sub.SubmittedAt,
	})
	next.Score += sub.Score
	next.LastActive = sub.SubmittedAt

	s.people[next.ID] = next
	s.submissions[sub.ID] = cloneSubmission(sub)
	s.subOrder = append(s.subOrder, sub.ID)
	return cloneParticipant(next), nil
}

func (p *ParticipantStore) DeleteByRoom(_ context.Context, roomID string) error {
	s := p.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, participant := range s.people {
		if participant.RoomID != roomID {
			continue
		}
		delete(s.identities, identityKey(roomID, participant.Identity))
		if participant.ConnectionID != "" {
			delete(s.connections, participant.ConnectionID)
		}
		delete(s.people, id)
	}
	return nil
}

// --- submissions ---

func (v *SubmissionStore) ListByParticipant(_ context.Context, participantID string) ([]domain.Submission, error) {
	return v.s.filterSubmissions(func(sub domain.Submission) bool { return sub.ParticipantID == participantID }), nil
}

func (v *SubmissionStore) ListByRoom(_ context.Context, roomID string) ([]domain.Submission, error) {
	return v.s.filterSubmissions(func(sub domain.Submission) bool { return sub.RoomID == roomID }), nil
}

func (v *SubmissionStore) DeleteByRoom(_ context.Context, roomID string) error {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.subOrder[:0]
	for _, id := range s.subOrder {
		if s.submissions[id].RoomID == roomID {
			delete(s.submissions, id)
			continue
		}
		kept = append(kept, id)
	}
	s.subOrder = kept
	return nil
}

func (s *Store) filterSubmissions(match func(domain.Submission) bool) []domain.Submission {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Submission, 0)
	for _, id := range s.subOrder {
		if sub := s.submissions[id]; match(sub) {
			out = append(out, cloneSubmission(sub))
		}
	}
	return out
}

func identityKey(roomID string, identity domain.Identity) string {
	return roomID + "|" + identity.Key()
}

func cloneRoom(r domain.Room) domain.Room {
	r.ParticipantIDs = append([]string{}, r.ParticipantIDs...)
	r.StartTime = cloneTime(r.StartTime)
	r.EndTime = cloneTime(r.EndTime)
	r.LastActivationCheck = cloneTime(r.LastActivationCheck)
	return r
}

func cloneParticipant(p domain.Participant) domain.Participant {
	p.Remaining = append([]string{}, p.Remaining...)
	p.Answered = append([]domain.AnsweredQuestion{}, p.Answered...)
	return p
}

func cloneSubmission(sub domain.Submission) domain.Submission {
	sub.Answer = append([]byte{}, sub.Answer...)
	return sub
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
