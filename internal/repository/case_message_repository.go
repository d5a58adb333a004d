package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/casedesk/case-service/internal/domain"
	apperrors "github.com/casedesk/case-service/pkg/util/errorutil"
)

// MessageRepository manages conversation messages keyed by case business identifier.
type MessageRepository interface {
	Create(ctx context.Context, msg *domain.CaseMessage) error
	ListByCaseIdentifier(ctx context.Context, identifier string) ([]domain.CaseMessage, error)
	CountByCaseIdentifier(ctx context.Context, identifier string) (int, error)
	UpdateCaseIdentifier(ctx context.Context, messageID, identifier string) error
}

type messageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository builds the Postgres repository.
func NewMessageRepository(pool *pgxpool.Pool) MessageRepository {
	return &messageRepository{pool: pool}
}

func (r *messageRepository) Create(ctx context.Context, msg *domain.CaseMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	const query = `
        INSERT INTO case_messages (id, case_identifier, sender, author_name, body)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING created_at`
	return r.pool.QueryRow(ctx, query,
		msg.ID,
		msg.CaseIdentifier,
		msg.Sender,
		msg.AuthorName,
		msg.Body,
	).Scan(&msg.CreatedAt)
}

func (r *messageRepository) ListByCaseIdentifier(ctx context.Context, identifier string) ([]domain.CaseMessage, error) {
	const query = `
        SELECT id, case_identifier, sender, author_name, body, created_at
        FROM case_messages WHERE case_identifier=$1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, identifier)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.CaseMessage
	for rows.Next() {
		var msg domain.CaseMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.CaseIdentifier,
			&msg.Sender,
			&msg.AuthorName,
			&msg.Body,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}

func (r *messageRepository) CountByCaseIdentifier(ctx context.Context, identifier string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM case_messages WHERE case_identifier=$1`, identifier).Scan(&count)
	return count, err
}

func (r *messageRepository) UpdateCaseIdentifier(ctx context.Context, messageID, identifier string) error {
	cmd, err := r.pool.Exec(ctx, `UPDATE case_messages SET case_identifier=$1 WHERE id=$2`, identifier, messageID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
