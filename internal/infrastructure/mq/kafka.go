package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alphagov/pay-connector-sub018/internal/config"
	"github.com/alphagov/pay-connector-sub018/internal/event"

	"github.com/IBM/sarama"
)

// NotificationPublisher pushes user-visible events (capture confirmed,
// refund outcome) onto a Kafka topic for the notification service. It is
// strictly downstream of ledger acceptance and always best effort.
type NotificationPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewNotificationPublisher(cfg *config.KafkaConfig) (*NotificationPublisher, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return &NotificationPublisher{
		producer: producer,
		topic:    cfg.Topic.PaymentNotifications,
	}, nil
}

// Publish keys messages by resource external id so notifications for one
// payment stay in partition order.
func (p *NotificationPublisher) Publish(_ context.Context, ev event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.ResourceExternalID),
		Value: sarama.ByteEncoder(payload),
	}

	_, _, err = p.producer.SendMessage(msg)
	return err
}

func (p *NotificationPublisher) Close() error {
	return p.producer.Close()
}
