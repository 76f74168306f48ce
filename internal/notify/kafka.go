package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/yourorg/fitment-ingest/internal/jobs"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events as JSON keyed by job id.
type KafkaSink struct {
	w     messageWriter
	topic string
	log   *zap.Logger
}

func NewKafkaSink(brokers []string, topic string, log *zap.Logger) *KafkaSink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: 10 * time.Second,
	}
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("kafka sink initialized", zap.String("topic", topic), zap.Strings("brokers", brokers))
	return &KafkaSink{w: w, topic: topic, log: log}
}

// eventMessage is the wire form on the topic.
type eventMessage struct {
	jobs.Event
	ResultType string `json:"result_type"`
}

func resultType(r jobs.Result) string {
	switch r.(type) {
	case jobs.FitmentsResult:
		return jobs.TypeFitments
	case jobs.ProductsResult:
		return jobs.TypeProducts
	default:
		return "unknown"
	}
}

func (s *KafkaSink) Notify(ctx context.Context, ev jobs.Event) error {
	data, err := json.Marshal(eventMessage{Event: ev, ResultType: resultType(ev.Result)})
	if err != nil {
		return fmt.Errorf("encode job event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.TenantID + "/" + ev.JobID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "tenant", Value: []byte(ev.TenantID)},
			{Key: "status", Value: []byte(ev.Current)},
		},
	}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		s.log.Warn("publish job event", zap.String("job_id", ev.JobID), zap.String("topic", s.topic), zap.Error(err))
		return fmt.Errorf("publish job event: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() error { return s.w.Close() }
