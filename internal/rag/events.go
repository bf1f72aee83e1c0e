package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"
)

const (
	eventSource        = "media-ingest"
	detailTypeIngested = "MediaIngested"
)

// MediaIngested is the event detail published after a run saved new media.
type MediaIngested struct {
	UserID     string    `json:"userId"`
	RunID      string    `json:"runId"`
	Status     string    `json:"status"`
	Saved      int       `json:"saved"`
	Enriched   int       `json:"enriched"`
	FinishedAt time.Time `json:"finishedAt"`
}

type eventPutter interface {
	PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventPublisher sends MediaIngested events to an EventBridge bus.
type EventPublisher struct {
	client  eventPutter
	busName string
}

// NewEventPublisher creates a publisher. An empty busName targets the default bus.
func NewEventPublisher(client eventPutter, busName string) *EventPublisher {
	return &EventPublisher{client: client, busName: busName}
}

// EmitMediaIngested publishes one MediaIngested event.
func (p *EventPublisher) EmitMediaIngested(ctx context.Context, event MediaIngested) error {
	detail, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal MediaIngested: %w", err)
	}

	entry := eventbridgetypes.PutEventsRequestEntry{
		Source:     aws.String(eventSource),
		DetailType: aws.String(detailTypeIngested),
		Detail:     aws.String(string(detail)),
	}
	if p.busName != "" {
		entry.EventBusName = aws.String(p.busName)
	}

	result, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{entry},
	})
	if err != nil {
		log.Error().Err(err).Str("userId", event.UserID).Str("runId", event.RunID).Msg("EventBridge PutEvents failed")
		return fmt.Errorf("PutEvents: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, e := range result.Entries {
			if e.ErrorCode != nil || e.ErrorMessage != nil {
				log.Error().
					Int("index", i).
					Str("errorCode", aws.ToString(e.ErrorCode)).
					Str("errorMessage", aws.ToString(e.ErrorMessage)).
					Str("userId", event.UserID).
					Str("runId", event.RunID).
					Msg("EventBridge PutEvents entry failed")
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(e.ErrorCode), aws.ToString(e.ErrorMessage))
			}
		}
	}

	log.Debug().Str("userId", event.UserID).Str("runId", event.RunID).Int("saved", event.Saved).Msg("MediaIngested emitted to EventBridge")
	return nil
}
