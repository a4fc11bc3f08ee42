package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"exam-room-service/internal/app"
	"exam-room-service/internal/domain"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

const uniqueViolation = "23505"

// Store persists rooms, participants and submissions through bun. Every
// conditional write runs in a transaction that locks the row it checks.
type Store struct {
	db *bun.DB
}

var (
	_ app.RoomRepository        = (*Store)(nil)
	_ app.ParticipantRepository = (*ParticipantStore)(nil)
	_ app.SubmissionRepository  = (*SubmissionStore)(nil)
)

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

type (
	ParticipantStore struct{ db *bun.DB }
	SubmissionStore  struct{ db *bun.DB }
)

func (s *Store) Participants() *ParticipantStore { return &ParticipantStore{db: s.db} }
func (s *Store) Submissions() *SubmissionStore   { return &SubmissionStore{db: s.db} }

// --- rooms ---

func (s *Store) Create(ctx context.Context, room domain.Room) error {
	_, err := s.db.NewInsert().Model(roomRow(room)).Exec(ctx)
	if isUniqueViolation(err) {
		return domain.ErrCodeTaken
	}
	if err != nil {
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (domain.Room, error) {
	return s.getRoom(ctx, s.db, "id = ?", id)
}

func (s *Store) GetByCode(ctx context.Context, code string) (domain.Room, error) {
	return s.getRoom(ctx, s.db, "code = ?", code)
}

func (s *Store) getRoom(ctx context.Context, db bun.IDB, where string, arg any) (domain.Room, error) {
	var m roomModel
	err := db.NewSelect().Model(&m).Where(where, arg).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	if err != nil {
		return domain.Room{}, fmt.Errorf("select room: %w", err)
	}
	return m.domain(), nil
}

func (s *Store) ListByHost(ctx context.Context, filter app.RoomFilter) ([]domain.Room, int, error) {
	var rows []roomModel
	q := s.db.NewSelect().Model(&rows).Where("host_id = ?", filter.HostID)
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	total, err := q.Order("created_at DESC", "id").Offset(filter.Offset).Limit(filter.Limit).ScanAndCount(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list rooms: %w", err)
	}
	return roomsOf(rows), total, nil
}

// Update locks the room row, runs fn and writes the result in one
// transaction. When fn fails nothing is written.
func (s *Store) Update(ctx context.Context, id string, fn func(*domain.Room) error) (domain.Room, error) {
	var out domain.Room
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var m roomModel
		err := tx.NewSelect().Model(&m).Where("id = ?", id).For("UPDATE").Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrRoomNotFound
		}
		if err != nil {
			return fmt.Errorf("lock room: %w", err)
		}
		room := m.domain()
		if err := fn(&room); err != nil {
			return err
		}
		room.ID = id
		if _, err := tx.NewUpdate().Model(roomRow(room)).WherePK().Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrCodeTaken
			}
			return fmt.Errorf("update room: %w", err)
		}
		out = room
		return nil
	})
	return out, err
}

func (s *Store) AddParticipant(ctx context.Context, roomID, participantID string) error {
	res, err := s.db.NewUpdate().
		Model((*roomModel)(nil)).
		Set("participant_ids = array_append(participant_ids, ?)", participantID).
		Where("id = ?", roomID).
		Where("NOT (? = ANY(participant_ids))", participantID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	// Zero rows means either already listed or no such room.
	exists, err := s.db.NewSelect().Model((*roomModel)(nil)).Where("id = ?", roomID).Exists(ctx)
	if err != nil {
		return fmt.Errorf("check room: %w", err)
	}
	if !exists {
		return domain.ErrRoomNotFound
	}
	return nil
}

func (s *Store) DueForActivation(ctx context.Context, now, cutoff time.Time) ([]domain.Room, error) {
	var rows []roomModel
	err := s.db.NewSelect().Model(&rows).
		Where("status = ?", string(domain.RoomScheduled)).
		Where("auto_start").
		Where("start_time <= ?", now.UTC()).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("last_activation_check IS NULL").WhereOr("last_activation_check < ?", cutoff.UTC())
		}).
		Order("id").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan rooms to activate: %w", err)
	}
	return roomsOf(rows), nil
}

func (s *Store) DueForCompletion(ctx context.Context, now time.Time) ([]domain.Room, error) {
	var rows []roomModel
	err := s.db.NewSelect().Model(&rows).
		Where("status = ?", string(domain.RoomActive)).
		Where("end_time <= ?", now.UTC()).
		Order("id").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan rooms to complete: %w", err)
	}
	return roomsOf(rows), nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.NewDelete().Model((*roomModel)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

func roomsOf(rows []roomModel) []domain.Room {
	out := make([]domain.Room, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].domain())
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == uniqueViolation
}
