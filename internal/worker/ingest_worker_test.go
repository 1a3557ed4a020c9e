package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"

	"docqa/internal/model"
)

type recordingAck struct {
	acked   int
	nacked  int
	requeue bool
}

func (a *recordingAck) Ack(uint64, bool) error {
	a.acked++
	return nil
}

func (a *recordingAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked++
	a.requeue = requeue
	return nil
}

func (a *recordingAck) Reject(uint64, bool) error { return nil }

type stubIngester struct {
	got []uint
	err error
}

func (s *stubIngester) Ingest(_ context.Context, id uint) (*model.Document, error) {
	s.got = append(s.got, id)
	if s.err != nil {
		return nil, s.err
	}
	return &model.Document{ID: id, Status: model.DocumentStatusReady}, nil
}

func TestIngestWorker_AcksProcessedJob(t *testing.T) {
	ingester := &stubIngester{}
	w := NewIngestWorker(nil, ingester, "docqa.ingest")
	ack := &recordingAck{}

	w.handle(context.Background(), amqp.Delivery{Acknowledger: ack, Body: []byte(`{"document_id":5}`)})

	assert.Equal(t, []uint{5}, ingester.got)
	assert.Equal(t, 1, ack.acked)
	assert.Zero(t, ack.nacked)
}

func TestIngestWorker_NacksBadPayloadWithoutRequeue(t *testing.T) {
	ingester := &stubIngester{}
	w := NewIngestWorker(nil, ingester, "docqa.ingest")
	ack := &recordingAck{}

	w.handle(context.Background(), amqp.Delivery{Acknowledger: ack, Body: []byte(`garbage`)})

	assert.Empty(t, ingester.got)
	assert.Equal(t, 1, ack.nacked)
	assert.False(t, ack.requeue)
}

func TestIngestWorker_NacksWhenIngestErrors(t *testing.T) {
	ingester := &stubIngester{err: errors.New("document not found")}
	w := NewIngestWorker(nil, ingester, "docqa.ingest")
	ack := &recordingAck{}

	w.handle(context.Background(), amqp.Delivery{Acknowledger: ack, Body: []byte(`{"document_id":9}`)})

	assert.Equal(t, 1, ack.nacked)
	assert.Zero(t, ack.acked)
}

func TestIngestWorker_RequeuesInterruptedJob(t *testing.T) {
	ingester := &stubIngester{err: fmt.Errorf("document ingestion interrupted: %w", context.Canceled)}
	w := NewIngestWorker(nil, ingester, "docqa.ingest")
	ack := &recordingAck{}

	w.handle(context.Background(), amqp.Delivery{Acknowledger: ack, Body: []byte(`{"document_id":4}`)})

	assert.Equal(t, 1, ack.nacked)
	assert.True(t, ack.requeue)
	assert.Zero(t, ack.acked)
}
