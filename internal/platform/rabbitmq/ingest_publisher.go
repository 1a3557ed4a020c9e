package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"docqa/internal/model"
)

// IngestPublisher enqueues ingest jobs as persistent JSON messages.
type IngestPublisher struct {
	conn      *amqp.Connection
	queueName string
}

func NewIngestPublisher(conn *amqp.Connection, queueName string) *IngestPublisher {
	return &IngestPublisher{
		conn:      conn,
		queueName: queueName,
	}
}

func (p *IngestPublisher) Dispatch(ctx context.Context, documentID uint) error {
	if p.conn == nil || p.conn.IsClosed() {
		return errors.New("rabbitmq connection is closed")
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	if _, err := declareQueue(ch, p.queueName); err != nil {
		return err
	}

	body, err := EncodeIngestJob(model.IngestJob{DocumentID: documentID})
	if err != nil {
		return err
	}

	if err := ch.PublishWithContext(
		ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	); err != nil {
		return fmt.Errorf("publish ingest job failed: %w", err)
	}
	return nil
}

func EncodeIngestJob(job model.IngestJob) ([]byte, error) {
	if job.DocumentID == 0 {
		return nil, errors.New("ingest job without document id")
	}
	body, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal ingest job failed: %w", err)
	}
	return body, nil
}

func DecodeIngestJob(body []byte) (model.IngestJob, error) {
	var job model.IngestJob
	if err := json.Unmarshal(body, &job); err != nil {
		return job, fmt.Errorf("decode ingest job failed: %w", err)
	}
	if job.DocumentID == 0 {
		return job, errors.New("ingest job without document id")
	}
	return job, nil
}
