package lib

import (
	"context"
	"encoding/json"
	"esm/src/config"

	"github.com/confluentinc/confluent-kafka-go/kafka"
)

const (
	TopicPaymentCompleted = "payments.completed"
	TopicPaymentFailed    = "payments.failed"
)

func GetKafkaProducerConfig(cfg config.KafkaConfig) kafka.ConfigMap {
	return kafka.ConfigMap{
		"bootstrap.servers": cfg.Broker,
		"client.id":         cfg.ClientID,
		"acks":              "all",
	}
}

// KafkaPublisher sends JSON payment events. Delivery reports are drained and logged.
type KafkaPublisher struct {
	producer *kafka.Producer
}

func NewKafkaPublisher(cfg config.KafkaConfig) (*KafkaPublisher, error) {
	conf := GetKafkaProducerConfig(cfg)
	p, err := kafka.NewProducer(&conf)
	if err != nil {
		return nil, err
	}
	go func() {
		log := WithComponent("kafka")
		for e := range p.Events() {
			if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
				log.Error().Err(m.TopicPartition.Error).Str("topic", *m.TopicPartition.Topic).Msg("delivery failed")
			}
		}
	}()
	return &KafkaPublisher{producer: p}, nil
}

func (k *KafkaPublisher) Publish(ctx context.Context, topic string, key string, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          value,
	}, nil)
}

func (k *KafkaPublisher) Close() {
	k.producer.Flush(5000)
	k.producer.Close()
}

func KafkaCreateTopics(ctx context.Context, cfg config.KafkaConfig, topics ...string) ([]kafka.TopicResult, error) {
	a, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Broker,
	})
	if err != nil {
		return nil, err
	}
	defer a.Close()
	topicsDef := []kafka.TopicSpecification{}
	for _, topic := range topics {
		topicsDef = append(topicsDef, kafka.TopicSpecification{
			Topic:             topic,
			NumPartitions:     10,
			ReplicationFactor: 1,
		})
	}
	return a.CreateTopics(ctx, topicsDef)
}
