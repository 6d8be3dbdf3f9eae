// Package messaging provides the durable queue drivers: a SQL table
// claimed with row locks, and Amazon SQS.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/queue"
	"github.com/carlosmonteiro/serverless-commerce/internal/domain/shared"
	"github.com/carlosmonteiro/serverless-commerce/internal/infrastructure/persistence/models"
)

// SQLQueue implements queue.Queue on the queue_messages table. Several
// queues share the table, told apart by name. On postgres, concurrent
// receivers claim disjoint rows with FOR UPDATE SKIP LOCKED.
type SQLQueue struct {
	db         *gorm.DB
	name       string
	visibility time.Duration
	now        func() time.Time
}

// NewSQLQueue creates a queue named name.
func NewSQLQueue(db *gorm.DB, name string, visibility time.Duration) *SQLQueue {
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &SQLQueue{db: db, name: name, visibility: visibility, now: time.Now}
}

func (q *SQLQueue) Name() string { return q.name }

func (q *SQLQueue) Send(ctx context.Context, body []byte, attributes map[string]string) (string, error) {
	attrs, err := json.Marshal(attributes)
	if err != nil {
		return "", fmt.Errorf("marshal attributes: %w", err)
	}
	now := q.now().UTC()
	row := &models.QueueMessageModel{
		ID:         uuid.NewString(),
		Queue:      q.name,
		Body:       string(body),
		Attributes: string(attrs),
		VisibleAt:  now,
		SentAt:     now,
	}
	if err := q.db.WithContext(ctx).Create(row).Error; err != nil {
		return "", queueError("send", err)
	}
	return row.ID, nil
}

func (q *SQLQueue) Receive(ctx context.Context, max int) ([]queue.Message, error) {
	if max <= 0 {
		return nil, nil
	}
	var out []queue.Message
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := q.now().UTC()

		query := tx.Where("queue = ? AND visible_at <= ?", q.name, now).
			Order("sent_at ASC").Order("id ASC").
			Limit(max)
		if tx.Dialector.Name() == "postgres" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var rows []models.QueueMessageModel
		if err := query.Find(&rows).Error; err != nil {
			return err
		}

		for i := range rows {
			row := &rows[i]
			row.ReceiveCount++
			row.Receipt = uuid.NewString()
			row.VisibleAt = now.Add(q.visibility)
			if err := tx.Model(&models.QueueMessageModel{}).
				Where("id = ?", row.ID).
				Updates(map[string]any{
					"receive_count": row.ReceiveCount,
					"receipt":       row.Receipt,
					"visible_at":    row.VisibleAt,
				}).Error; err != nil {
				return err
			}
			out = append(out, toMessage(row))
		}
		return nil
	})
	if err != nil {
		return nil, queueError("receive", err)
	}
	return out, nil
}

func (q *SQLQueue) Delete(ctx context.Context, msg queue.Message) error {
	res := q.db.WithContext(ctx).
		Where("id = ? AND queue = ? AND receipt = ?", msg.ID, q.name, msg.ReceiptHandle).
		Delete(&models.QueueMessageModel{})
	if res.Error != nil {
		return queueError("delete", res.Error)
	}
	if res.RowsAffected == 0 {
		return shared.ErrConditionFailed.Withf("receipt for message %s is stale", msg.ID)
	}
	return nil
}

func (q *SQLQueue) Release(ctx context.Context, msg queue.Message, delay time.Duration) error {
	res := q.db.WithContext(ctx).
		Model(&models.QueueMessageModel{}).
		Where("id = ? AND queue = ? AND receipt = ?", msg.ID, q.name, msg.ReceiptHandle).
		Update("visible_at", q.now().UTC().Add(delay))
	if res.Error != nil {
		return queueError("release", res.Error)
	}
	if res.RowsAffected == 0 {
		return shared.ErrConditionFailed.Withf("receipt for message %s is stale", msg.ID)
	}
	return nil
}

func (q *SQLQueue) Peek(ctx context.Context, max int) ([]queue.Message, error) {
	var rows []models.QueueMessageModel
	err := q.db.WithContext(ctx).
		Where("queue = ?", q.name).
		Order("sent_at ASC").Order("id ASC").
		Limit(max).
		Find(&rows).Error
	if err != nil {
		return nil, queueError("peek", err)
	}
	out := make([]queue.Message, len(rows))
	for i := range rows {
		out[i] = toMessage(&rows[i])
		out[i].ReceiptHandle = ""
	}
	return out, nil
}

func toMessage(row *models.QueueMessageModel) queue.Message {
	var attrs map[string]string
	if row.Attributes != "" {
		_ = json.Unmarshal([]byte(row.Attributes), &attrs)
	}
	return queue.Message{
		ID:            row.ID,
		Body:          []byte(row.Body),
		Attributes:    attrs,
		ReceiveCount:  row.ReceiveCount,
		SentAt:        row.SentAt,
		ReceiptHandle: row.Receipt,
	}
}

func queueError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return shared.ErrTransientStore.Wrap(fmt.Errorf("queue %s: %w", op, err))
}

var _ queue.Queue = (*SQLQueue)(nil)
