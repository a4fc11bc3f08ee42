package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"exam-room-service/internal/domain"
	"github.com/uptrace/bun"
)

// CreateOrGet relies on the unique (room_id, identity_key) index: the insert
// is skipped on conflict and the stored row is returned instead.
func (p *ParticipantStore) CreateOrGet(ctx context.Context, participant domain.Participant) (domain.Participant, bool, error) {
	row := participantRow(participant)
	res, err := p.db.NewInsert().Model(row).On("CONFLICT (room_id, identity_key) DO NOTHING").Exec(ctx)
	if err != nil {
		return domain.Participant{}, false, fmt.Errorf("insert participant: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return row.domain(), true, nil
	}
	existing, err := p.FindByIdentity(ctx, participant.RoomID, participant.Identity)
	return existing, false, err
}

func (p *ParticipantStore) Get(ctx context.Context, id string) (domain.Participant, error) {
	return getParticipant(ctx, p.db, "id = ?", id)
}

func (p *ParticipantStore) FindByIdentity(ctx context.Context, roomID string, identity domain.Identity) (domain.Participant, error) {
	var m participantModel
	err := p.db.NewSelect().Model(&m).
		Where("room_id = ?", roomID).
		Where("identity_key = ?", identity.Key()).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("select participant: %w", err)
	}
	return m.domain(), nil
}

func (p *ParticipantStore) ListByRoom(ctx context.Context, roomID string) ([]domain.Participant, error) {
	var rows []participantModel
	if err := p.db.NewSelect().Model(&rows).Where("room_id = ?", roomID).Order("joined_at", "id").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	out := make([]domain.Participant, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].domain())
	}
	return out, nil
}

func (p *ParticipantStore) Attach(ctx context.Context, id, connectionID string, now time.Time) (domain.Participant, error) {
	var m participantModel
	res, err := p.db.NewUpdate().Model(&m).
		Set("connection_id = ?", connectionID).
		Set("last_active = ?", now.UTC()).
		Where("id = ?", id).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return domain.Participant{}, fmt.Errorf("attach connection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return m.domain(), nil
}

func (p *ParticipantStore) Detach(ctx context.Context, connectionID string, now time.Time) (domain.Participant, bool, error) {
	var m participantModel
	res, err := p.db.NewUpdate().Model(&m).
		Set("connection_id = NULL").
		Set("last_active = ?", now.UTC()).
		Where("connection_id = ?", connectionID).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return domain.Participant{}, false, fmt.Errorf("detach connection: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Participant{}, false, nil
	}
	return m.domain(), true, nil
}

// RecordAnswer locks the participant row, so of two concurrent submissions
// for one question the second sees it already answered. The unique
// (participant_id, question_id) index backs this up.
func (p *ParticipantStore) RecordAnswer(ctx context.Context, sub domain.Submission) (domain.Participant, error) {
	var out domain.Participant
	err := p.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var m participantModel
		err := tx.NewSelect().Model(&m).Where("id = ?", sub.ParticipantID).For("UPDATE").Scan(ctx)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrParticipantNotFound
		}
		if err != nil {
			return fmt.Errorf("lock participant: %w", err)
		}
		current := m.domain()
		if !current.Pending(sub.QuestionID) {
			return domain.ErrInvalidQuestion
		}

		if _, err := tx.NewInsert().Model(submissionRow(sub)).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrInvalidQuestion
			}
			return fmt.Errorf("insert submission: %w", err)
		}

		remaining := make([]string, 0, len(current.Remaining))
		for _, qid := range current.Remaining {
			if qid != sub.QuestionID {
				remaining = append(remaining, qid)
			}
		}
		current.Remaining = remaining
		current.Answered = append(current.Answered, domain.AnsweredQuestion{
			QuestionID:   sub.QuestionID,
			SubmissionID: sub.ID,
			AnsweredAt:   sub.SubmittedAt,
		})
		current.Score += sub.Score
		current.LastActive = sub.SubmittedAt

		_, err = tx.NewUpdate().Model(participantRow(current)).
			Column("remaining", "answered", "score", "last_active").
			WherePK().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("update participant: %w", err)
		}
		out = current
		return nil
	})
	return out, err
}

func (p *ParticipantStore) DeleteByRoom(ctx context.Context, roomID string) error {
	if _, err := p.db.NewDelete().Model((*participantModel)(nil)).Where("room_id = ?", roomID).Exec(ctx); err != nil {
		return fmt.Errorf("delete participants: %w", err)
	}
	return nil
}

func getParticipant(ctx context.Context, db bun.IDB, where string, arg any) (domain.Participant, error) {
	var m participantModel
	err := db.NewSelect().Model(&m).Where(where, arg).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("select participant: %w", err)
	}
	return m.domain(), nil
}

// --- submissions ---

func (v *SubmissionStore) ListByParticipant(ctx context.Context, participantID string) ([]domain.Submission, error) {
	return v.list(ctx, "participant_id = ?", participantID)
}

func (v *SubmissionStore) ListByRoom(ctx context.Context, roomID string) ([]domain.Submission, error) {
	return v.list(ctx, "room_id = ?", roomID)
}

func (v *SubmissionStore) DeleteByRoom(ctx context.Context, roomID string) error {
	if _, err := v.db.NewDelete().Model((*submissionModel)(nil)).Where("room_id = ?", roomID).Exec(ctx); err != nil {
		return fmt.Errorf("delete submissions: %w", err)
	}
	return nil
}

func (v *SubmissionStore) list(ctx context.Context, where string, arg any) ([]domain.Submission, error) {
	var rows []submissionModel
	if err := v.db.NewSelect().Model(&rows).Where(where, arg).Order("submitted_at", "id").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	out := make([]domain.Submission, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].domain())
	}
	return out, nil
}
