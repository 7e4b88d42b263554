package ingest

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// KafkaEmitter publishes ingestion state transitions to a topic, the
// optional event-emission path the coordinator's back-pressure model
// assumes consumers may use for downstream fan-out.
type KafkaEmitter struct {
	writer *kafka.Writer
}

// NewKafkaEmitter builds an EventEmitter backed by a kafka-go writer.
func NewKafkaEmitter(broker, topic string) *KafkaEmitter {
	return &KafkaEmitter{writer: kafka.NewWriter(kafka.WriterConfig{
		Brokers:  []string{broker},
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	})}
}

type transitionEvent struct {
	Namespace string  `json:"namespace"`
	Job       JobKind `json:"job_kind"`
	State     State   `json:"state"`
}

func (k *KafkaEmitter) Emit(ctx context.Context, namespace string, job JobKind, state State) {
	payload, err := json.Marshal(transitionEvent{Namespace: namespace, Job: job, State: state})
	if err != nil {
		return
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(namespace), Value: payload}); err != nil {
		log.Warn().Err(err).Str("namespace", namespace).Msg("ingest: kafka event emission failed")
	}
}

func (k *KafkaEmitter) Close() error { return k.writer.Close() }
