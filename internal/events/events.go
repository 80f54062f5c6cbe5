// Package events publishes job-lifecycle notifications to Kafka so
// downstream systems (a search indexer, an analytics sink) can react
// to completed or failed enrichment without polling Postgres,
// adapting this codebase's Kafka producer plumbing to a narrower,
// dispatcher-owned event shape.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/chapterbridge/nlp-pack-worker/internal/models"
)

const (
	EventJobCompleted = "job.completed"
	EventJobFailed    = "job.failed"
)

// JobEvent is the message body published for both event types.
type JobEvent struct {
	Event        string             `json:"event"`
	JobID        string             `json:"job_id"`
	SegmentID    string             `json:"segment_id"`
	WorkID       string             `json:"work_id"`
	Attempt      int                `json:"attempt"`
	ModelVersion string             `json:"model_version,omitempty"`
	Error        string             `json:"error,omitempty"`
	Output       *models.OutputDoc  `json:"output,omitempty"`
}

// Publisher wraps a Kafka writer scoped to one topic. It implements
// dispatch.EventPublisher.
type Publisher struct {
	writer *kafka.Writer
	topic  string
}

// NewPublisher builds a Publisher, or returns (nil, nil) if brokers is
// empty: job-lifecycle events are optional, and a nil *Publisher used
// as a nil dispatch.EventPublisher disables publishing entirely.
func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, nil
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
		Async:                  false,
	}
	log.Info().Strs("brokers", brokers).Str("topic", topic).Msg("job-lifecycle event publisher initialized")
	return &Publisher{writer: writer, topic: topic}, nil
}

func (p *Publisher) JobCompleted(ctx context.Context, job *models.PipelineJob, output *models.OutputDoc) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, JobEvent{
		Event:        EventJobCompleted,
		JobID:        job.ID.String(),
		SegmentID:    job.SegmentID.String(),
		WorkID:       job.WorkID.String(),
		Attempt:      job.Attempt,
		ModelVersion: output.ModelVersion,
		Output:       output,
	})
}

func (p *Publisher) JobFailed(ctx context.Context, job *models.PipelineJob, errMsg string) error {
	if p == nil {
		return nil
	}
	return p.publish(ctx, JobEvent{
		Event:     EventJobFailed,
		JobID:     job.ID.String(),
		SegmentID: job.SegmentID.String(),
		WorkID:    job.WorkID.String(),
		Attempt:   job.Attempt,
		Error:     errMsg,
	})
}

func (p *Publisher) publish(ctx context.Context, evt JobEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal job event: %w", err)
	}
	msg := kafka.Message{Key: []byte(evt.JobID), Value: data}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write job event to kafka: %w", err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
