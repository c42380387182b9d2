package postgres

/*
Файл notification_repo.go — факты уведомления надзорных органов и их
подтверждения (ack). Запись одна на активацию, подтверждения дописываются
в JSONB по мере поступления из канала ack.
*/

import (
	"context"
	"fmt"
	"time"

	"github.com/ndjobi-platform/emergency-access/internal/domain"
)

// CreateNotification фиксирует факт отправки уведомлений органам.
func (r *Repo) CreateNotification(ctx context.Context, n domain.NotificationRecord) error {
	query := `INSERT INTO authority_notifications
	          (id, activation_id, notified_authorities, payload, sent_at, acknowledgments)
	          VALUES ($1, $2, $3, $4, $5, $6)`

	acks := n.Acknowledgments
	if acks == nil {
		acks = map[string]time.Time{}
	}

	_, err := r.pool.Exec(ctx, query,
		n.ID, n.ActivationID, n.NotifiedAuthorities, n.Payload, n.SentAt, acks,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to create notification record: %w", err)
	}
	return nil
}

// Acknowledge дописывает подтверждение органа в JSONB. Повторный ack от того
// же органа просто перезаписывает время — операция идемпотентна.
func (r *Repo) Acknowledge(ctx context.Context, activationID, authority string, at time.Time) error {
	query := `UPDATE authority_notifications
	          SET acknowledgments = acknowledgments || jsonb_build_object($1::text, $2::timestamptz)
	          WHERE activation_id = $3`

	tag, err := r.pool.Exec(ctx, query, authority, at, activationID)
	if err != nil {
		return fmt.Errorf("postgres: failed to record acknowledgment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification record not found for activation %s", activationID)
	}
	return nil
}
