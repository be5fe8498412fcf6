package repository

import (
	"context"
	"database/sql"

	"github.com/akylbek/payment-system/deposit-reconciler/internal/models"
)

type DepositStateRepository struct {
	db *sql.DB
}

func NewDepositStateRepository(db *sql.DB) *DepositStateRepository {
	return &DepositStateRepository{db: db}
}

func (r *DepositStateRepository) InitDB() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS deposit_states (
			request_id VARCHAR(255) PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			phase VARCHAR(50) NOT NULL,
			previous_phase VARCHAR(50),
			resolved_by VARCHAR(50),
			reason TEXT,
			receipt_no VARCHAR(100),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deposit_states_user ON deposit_states(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deposit_states_phase ON deposit_states(phase)`,
	}

	for _, query := range queries {
		if _, err := r.db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

func (r *DepositStateRepository) InsertAwaiting(ctx context.Context, requestID, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO deposit_states (request_id, user_id, phase, previous_phase)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (request_id) DO NOTHING
	`, requestID, userID, models.PhaseAwaiting, models.PhaseIdle)
	return err
}

// TransitionPhase is a compare-and-swap on phase. Zero rows affected means
// the deposit was not in the expected phase, which is how a second writer
// losing the race shows up.
func (r *DepositStateRepository) TransitionPhase(ctx context.Context, requestID string, from, to models.Phase, resolvedBy models.ResolvedBy, reason, receiptNo string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE deposit_states
		SET phase = $1, previous_phase = $2, resolved_by = $3, reason = $4, receipt_no = $5, updated_at = NOW()
		WHERE request_id = $6 AND phase = $7
	`, to, from, resolvedBy, reason, receiptNo, requestID, from)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *DepositStateRepository) GetByRequestID(ctx context.Context, requestID string) (*models.DepositStateInfo, error) {
	var info models.DepositStateInfo
	var resolvedBy, reason, receiptNo sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT request_id, user_id, phase, previous_phase, resolved_by, reason, receipt_no, created_at, updated_at
		FROM deposit_states WHERE request_id = $1
	`, requestID).Scan(&info.RequestID, &info.UserID, &info.Phase, &info.PreviousPhase, &resolvedBy, &reason, &receiptNo, &info.CreatedAt, &info.UpdatedAt)
	if err != nil {
		return nil, err
	}
	info.ResolvedBy = resolvedBy.String
	info.Reason = reason.String
	info.ReceiptNo = receiptNo.String
	return &info, nil
}
