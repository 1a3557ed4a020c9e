package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"docqa/internal/model"
	"docqa/internal/platform/rabbitmq"
)

type Ingester interface {
	Ingest(ctx context.Context, documentID uint) (*model.Document, error)
}

// IngestWorker consumes ingest jobs one at a time with manual acks.
type IngestWorker struct {
	conn      *amqp.Connection
	ingester  Ingester
	queueName string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIngestWorker(conn *amqp.Connection, ingester Ingester, queueName string) *IngestWorker {
	return &IngestWorker{
		conn:      conn,
		ingester:  ingester,
		queueName: queueName,
	}
}

func (w *IngestWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	log.Info().Str("queue", w.queueName).Msg("ingest worker started")

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					log.Warn().Msg("ingest worker delivery channel closed")
					return
				}
				w.handle(workerCtx, d)
			}
		}
	}()

	return nil
}

func (w *IngestWorker) handle(ctx context.Context, d amqp.Delivery) {
	job, err := rabbitmq.DecodeIngestJob(d.Body)
	if err != nil {
		log.Error().Err(err).Msg("worker decode ingest job failed")
		_ = d.Nack(false, false)
		return
	}

	doc, err := w.ingester.Ingest(ctx, job.DocumentID)
	if errors.Is(err, context.Canceled) {
		log.Warn().Uint("document_id", job.DocumentID).Msg("worker stopped mid-ingest, requeueing job")
		_ = d.Nack(false, true)
		return
	}
	if err != nil {
		log.Error().Err(err).Uint("document_id", job.DocumentID).Msg("worker ingest document failed")
		_ = d.Nack(false, false)
		return
	}

	log.Info().Uint("document_id", doc.ID).Str("status", string(doc.Status)).Msg("worker ingest finished")
	_ = d.Ack(false)
}

func (w *IngestWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
