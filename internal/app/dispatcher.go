package app

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"docqa/internal/model"
)

var ErrDispatcherClosed = errors.New("dispatcher closed")

// Ingester runs the ingestion pipeline for one document.
type Ingester interface {
	Ingest(ctx context.Context, documentID uint) (*model.Document, error)
}

// LocalDispatcher runs each ingestion on its own goroutine inside the server process.
// Jobs are detached from the request context and cancelled only by Close.
type LocalDispatcher struct {
	ingester Ingester
	ctx      context.Context
	cancel   context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewLocalDispatcher(ingester Ingester) *LocalDispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalDispatcher{
		ingester: ingester,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (d *LocalDispatcher) Dispatch(_ context.Context, documentID uint) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		doc, err := d.ingester.Ingest(d.ctx, documentID)
		if errors.Is(err, ErrIngestInterrupted) {
			log.Warn().Uint("document_id", documentID).Msg("ingest interrupted by shutdown, resumed on next start")
			return
		}
		if err != nil {
			log.Error().Err(err).Uint("document_id", documentID).Msg("ingest document failed")
			return
		}
		log.Info().Uint("document_id", documentID).Str("status", string(doc.Status)).Msg("ingest finished")
	}()
	return nil
}

// Close stops accepting jobs and waits for in-flight ones. If ctx ends first the
// remaining jobs are cancelled and Close still waits for them to return.
func (d *LocalDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
