// Package auditbus publishes audit events to Amazon EventBridge or the log.
package auditbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"go.uber.org/zap"

	"github.com/carlosmonteiro/serverless-commerce/internal/domain/audit"
)

// maxEntriesPerCall is the PutEvents batch limit.
const maxEntriesPerCall = 10

// EventBridgeAPI is the subset of the EventBridge client used.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgeBus puts audit events on a custom bus.
type EventBridgeBus struct {
	client  EventBridgeAPI
	busName string
	now     func() time.Time
}

func NewEventBridgeBus(client EventBridgeAPI, busName string) *EventBridgeBus {
	return &EventBridgeBus{client: client, busName: busName, now: time.Now}
}

// Publish sends events in batches of ten. Entries rejected by EventBridge are
// reported together in the returned error.
func (b *EventBridgeBus) Publish(ctx context.Context, events ...audit.Event) error {
	var errs []error
	for start := 0; start < len(events); start += maxEntriesPerCall {
		batch := events[start:min(start+maxEntriesPerCall, len(events))]
		entries := make([]types.PutEventsRequestEntry, 0, len(batch))
		for _, ev := range batch {
			detail, err := json.Marshal(ev.Detail)
			if err != nil {
				errs = append(errs, fmt.Errorf("marshal %s detail: %w", ev.DetailType, err))
				continue
			}
			at := ev.Time
			if at.IsZero() {
				at = b.now()
			}
			entries = append(entries, types.PutEventsRequestEntry{
				EventBusName: aws.String(b.busName),
				Source:       aws.String(ev.Source),
				DetailType:   aws.String(ev.DetailType),
				Detail:       aws.String(string(detail)),
				Time:         aws.Time(at),
			})
		}
		if len(entries) == 0 {
			continue
		}

		out, err := b.client.PutEvents(ctx, &eventbridge.PutEventsInput{Entries: entries})
		if err != nil {
			errs = append(errs, fmt.Errorf("put events: %w", err))
			continue
		}
		if out.FailedEntryCount > 0 {
			for i, res := range out.Entries {
				if res.ErrorCode != nil {
					errs = append(errs, fmt.Errorf("entry %d (%s): %s %s",
						start+i, aws.ToString(entries[i].DetailType), aws.ToString(res.ErrorCode), aws.ToString(res.ErrorMessage)))
				}
			}
		}
	}
	return errors.Join(errs...)
}

// LogBus writes audit events to the log.
type LogBus struct {
	log *zap.Logger
}

func NewLogBus(log *zap.Logger) *LogBus {
	return &LogBus{log: log}
}

func (b *LogBus) Publish(_ context.Context, events ...audit.Event) error {
	for _, ev := range events {
		b.log.Info("audit event",
			zap.String("source", ev.Source),
			zap.String("detail_type", ev.DetailType),
			zap.Any("detail", ev.Detail),
		)
	}
	return nil
}

var (
	_ audit.Bus = (*EventBridgeBus)(nil)
	_ audit.Bus = (*LogBus)(nil)
)
