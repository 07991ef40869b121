// Package kafka implements the Broker Adapter (C6) over Kafka-compatible
// brokers (Redpanda included) using franz-go.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/job-platform/internal/domain"
)

// topicPrefix namespaces task queues so one cluster can host many task
// names without a central topic registry.
const topicPrefix = "jobs."

func topicFor(taskName string) string { return topicPrefix + taskName }

// Broker implements domain.Broker over franz-go: Publish uses the client
// built in New, and each Subscribe call builds its own consumer-group
// client, matching the teacher's one-client-per-role pattern.
type Broker struct {
	client  *kgo.Client
	brokers []string
}

// New dials brokers and wires OpenTelemetry hooks via kotel, the same
// instrumentation the teacher's redpanda adapter uses.
func New(brokers []string) (*Broker, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=kafka.new: no seed brokers provided")
	}

	tracer := kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))
	kotelService := kotel.NewKotel(kotel.WithTracer(tracer))

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.WithHooks(kotelService.Hooks()...),
		kgo.DialTimeout(10*time.Second),
		kgo.RequestTimeoutOverhead(5*time.Second),
		kgo.RetryTimeout(30*time.Second),
		kgo.ProducerBatchMaxBytes(1_000_000),
	)
	if err != nil {
		return nil, fmt.Errorf("op=kafka.new: %w", err)
	}
	return &Broker{client: client, brokers: brokers}, nil
}

// Publish produces one record keyed on job_id to task_name's topic, so all
// deliveries for a job land on the same partition and are processed in
// order relative to each other (spec §4.4).
func (b *Broker) Publish(ctx domain.Context, taskName string, payload map[string]any) error {
	topic := topicFor(taskName)
	if err := ensureTopic(ctx, b.client, topic, 6, 1); err != nil {
		slog.Warn("kafka topic bootstrap failed, publishing anyway", slog.String("topic", topic), slog.Any("error", err))
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("op=kafka.publish.marshal: %w", err)
	}
	jobID, _ := payload["job_id"].(string)

	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(jobID),
		Value: body,
		Headers: []kgo.RecordHeader{
			{Key: "task_name", Value: []byte(taskName)},
			{Key: "job_id", Value: []byte(jobID)},
		},
	}

	result := b.client.ProduceSync(ctx, record)
	if err := result.FirstErr(); err != nil {
		return fmt.Errorf("op=kafka.publish: %w", err)
	}
	return nil
}

// Subscribe starts a consumer group on queue's topic and invokes handler
// for every fetched record, committing its offset only after handler
// succeeds — at-least-once delivery per spec §4.5/§4.6.
func (b *Broker) Subscribe(ctx domain.Context, queue string, handler func(ctx domain.Context, msg domain.Message) error) error {
	topic := topicFor(queue)
	if err := ensureTopic(ctx, b.client, topic, 6, 1); err != nil {
		slog.Warn("kafka topic bootstrap failed before subscribe", slog.String("topic", topic), slog.Any("error", err))
	}

	tracer := kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))
	kotelService := kotel.NewKotel(kotel.WithTracer(tracer))

	client, err := kgo.NewClient(
		kgo.SeedBrokers(b.brokers...),
		kgo.ConsumerGroup(queue),
		kgo.ConsumeTopics(topic),
		kgo.WithHooks(kotelService.Hooks()...),
		kgo.AutoCommitMarks(),
		kgo.AutoCommitInterval(time.Second),
		kgo.FetchMaxWait(5*time.Second),
	)
	if err != nil {
		return fmt.Errorf("op=kafka.subscribe.new_client: %w", err)
	}
	defer client.Close()

	tr := otel.Tracer("broker.kafka")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fetches := client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		fetches.EachError(func(_ string, _ int32, err error) {
			slog.Error("kafka fetch error", slog.Any("error", err))
		})

		fetches.EachRecord(func(rec *kgo.Record) {
			recCtx, span := tr.Start(ctx, "kafka.handle")
			var payload map[string]any
			if err := json.Unmarshal(rec.Value, &payload); err != nil {
				slog.Error("dropping unparseable kafka record", slog.Any("error", err))
				client.MarkCommitRecords(rec)
				span.End()
				return
			}
			msg := domain.Message{TaskName: queue, Payload: payload}
			if jobID, ok := payload["job_id"].(string); ok {
				msg.JobID = jobID
			}
			if err := handler(recCtx, msg); err != nil {
				slog.Error("handler failed, leaving record uncommitted for redelivery",
					slog.String("topic", topic), slog.Any("error", err))
				span.End()
				return
			}
			client.MarkCommitRecords(rec)
			span.End()
		})
	}
}

// Close shuts down the producer-side client.
func (b *Broker) Close() error {
	b.client.Close()
	return nil
}
