package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

// topicAlreadyExistsErrorCode is the Kafka protocol error code for
// TOPIC_ALREADY_EXISTS. https://kafka.apache.org/protocol#protocol_error_codes
const topicAlreadyExistsErrorCode = 36

// ensureTopic creates topic if it doesn't exist, tolerating a concurrent
// creation race from another dispatcher or worker instance.
func ensureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replicationFactor int16) error {
	if topic == "" {
		return fmt.Errorf("topic name cannot be empty")
	}

	req := kmsg.NewCreateTopicsRequest()
	req.TimeoutMillis = 30000

	topicReq := kmsg.NewCreateTopicsRequestTopic()
	topicReq.Topic = topic
	topicReq.NumPartitions = partitions
	topicReq.ReplicationFactor = replicationFactor
	topicReq.Configs = []kmsg.CreateTopicsRequestTopicConfig{
		{Name: "cleanup.policy", Value: strPtr("delete")},
		{Name: "retention.ms", Value: strPtr("604800000")},
		{Name: "compression.type", Value: strPtr("snappy")},
		{Name: "min.insync.replicas", Value: strPtr("1")},
	}
	req.Topics = append(req.Topics, topicReq)

	resp, err := client.Request(ctx, &req)
	if err != nil {
		return fmt.Errorf("op=kafka.ensure_topic.request: %w", err)
	}
	createResp, ok := resp.(*kmsg.CreateTopicsResponse)
	if !ok {
		return fmt.Errorf("op=kafka.ensure_topic: unexpected response type %T", resp)
	}
	for _, t := range createResp.Topics {
		if t.ErrorCode == 0 {
			slog.Info("kafka topic ready", slog.String("topic", t.Topic))
			continue
		}
		if t.ErrorCode == topicAlreadyExistsErrorCode {
			slog.Debug("kafka topic already exists", slog.String("topic", t.Topic))
			continue
		}
		msg := ""
		if t.ErrorMessage != nil {
			msg = *t.ErrorMessage
		}
		return fmt.Errorf("op=kafka.ensure_topic: %s (code %d)", msg, t.ErrorCode)
	}
	return nil
}

func strPtr(s string) *string { return &s }
