package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/textsplitter"
	"golang.org/x/sync/singleflight"

	"docqa/internal/ai"
	"docqa/internal/model"
	"docqa/internal/pkg/pdfextract"
	"docqa/internal/repository"
	"docqa/internal/vectorstore"
)

var errNoText = errors.New("PDF contains no extractable text")

const (
	defaultIngestTimeout = 10 * time.Minute
	leaseGrace           = time.Minute
)

// ProcessingLease is how long a processing document belongs to the run that claimed it.
// Past the lease the run is presumed dead and the document may be claimed again.
func ProcessingLease(ingestTimeout time.Duration) time.Duration {
	if ingestTimeout <= 0 {
		ingestTimeout = defaultIngestTimeout
	}
	return ingestTimeout + leaseGrace
}

type IngestConfig struct {
	ChunkSize    int
	ChunkOverlap int
	Timeout      time.Duration
}

// PageExtractor returns the text of each page of the PDF at path.
type PageExtractor func(path string) ([]pdfextract.Page, error)

type IngestOption func(*IngestService)

func WithPageExtractor(fn PageExtractor) IngestOption {
	return func(s *IngestService) {
		s.extractPages = fn
	}
}

// IngestService turns an uploaded PDF into a vector index. Runs for the same
// document are collapsed in-process and fenced across processes by the
// uploaded/failed -> processing status transition.
type IngestService struct {
	repo         *repository.DocumentRepository
	embedder     Embedder
	index        VectorIndex
	splitter     textsplitter.RecursiveCharacter
	timeout      time.Duration
	lease        time.Duration
	extractPages PageExtractor
	group        singleflight.Group
}

func NewIngestService(
	repo *repository.DocumentRepository,
	embedder Embedder,
	index VectorIndex,
	cfg IngestConfig,
	opts ...IngestOption,
) *IngestService {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultIngestTimeout
	}
	s := &IngestService{
		repo:     repo,
		embedder: embedder,
		index:    index,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.ChunkSize),
			textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		),
		timeout:      cfg.Timeout,
		lease:        ProcessingLease(cfg.Timeout),
		extractPages: pdfextract.ExtractPages,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest processes the document and returns its resulting state. Processing
// failures are recorded on the document (status failed with a reason) and are
// not returned as errors; only lookup and persistence errors are. When ctx is
// cancelled mid-run the document goes back to uploaded and ErrIngestInterrupted
// is returned so the job can be retried.
func (s *IngestService) Ingest(ctx context.Context, documentID uint) (*model.Document, error) {
	if documentID == 0 {
		return nil, ErrInvalidInput
	}
	key := strconv.FormatUint(uint64(documentID), 10)
	v, err, shared := s.group.Do(key, func() (interface{}, error) {
		return s.ingestOnce(ctx, documentID)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Debug().Uint("document_id", documentID).Msg("joined in-flight ingestion")
	}
	doc := *v.(*model.Document)
	return &doc, nil
}

func (s *IngestService) ingestOnce(ctx context.Context, documentID uint) (*model.Document, error) {
	doc, err := s.repo.GetByID(documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}

	won, err := s.repo.ClaimForProcessing(documentID, time.Now().Add(-s.lease))
	if err != nil {
		return nil, err
	}
	if !won {
		log.Info().Uint("document_id", documentID).Str("status", string(doc.Status)).Msg("ingestion skipped, document not pending")
		return doc, nil
	}
	if doc.Status == model.DocumentStatusProcessing {
		log.Warn().Uint("document_id", documentID).Time("last_update", doc.UpdatedAt).Msg("reclaimed stale processing document")
	}
	doc.Status = model.DocumentStatusProcessing
	doc.FailureReason = ""

	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	indexPath, chunkCount, procErr := s.process(runCtx, doc)
	if procErr != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			if err := s.repo.ReleaseProcessing(documentID); err != nil {
				return nil, err
			}
			log.Warn().Err(procErr).Uint("document_id", documentID).Msg("document ingestion interrupted, released for retry")
			return nil, fmt.Errorf("%w: %w", ErrIngestInterrupted, ctx.Err())
		}
		reason := failureReason(procErr)
		if err := s.repo.MarkFailed(documentID, reason); err != nil {
			return nil, err
		}
		log.Warn().Err(procErr).Uint("document_id", documentID).Str("reason", reason).Msg("document ingestion failed")
		doc.Status = model.DocumentStatusFailed
		doc.FailureReason = reason
		return doc, nil
	}

	if err := s.repo.MarkReady(documentID, indexPath, chunkCount); err != nil {
		return nil, err
	}
	log.Info().
		Uint("document_id", documentID).
		Int("chunks", chunkCount).
		Dur("took", time.Since(start)).
		Msg("document ready")
	doc.Status = model.DocumentStatusReady
	doc.IndexPath = indexPath
	doc.ChunkCount = chunkCount
	return doc, nil
}

func (s *IngestService) process(ctx context.Context, doc *model.Document) (string, int, error) {
	pages, err := s.extractPages(doc.FilePath)
	if err != nil {
		return "", 0, fmt.Errorf("failed to extract text from PDF: %w", err)
	}

	chunks, err := s.split(doc, pages)
	if err != nil {
		return "", 0, err
	}
	if len(chunks) == 0 {
		return "", 0, errNoText
	}

	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Content
	}
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return "", 0, err
	}
	if len(vectors) != len(chunks) {
		return "", 0, fmt.Errorf("embedding count mismatch: got %d for %d chunks", len(vectors), len(chunks))
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}

	indexPath, err := s.index.Build(ctx, doc.ID, chunks)
	if err != nil {
		return "", 0, fmt.Errorf("failed to build vector index: %w", err)
	}
	return indexPath, len(chunks), nil
}

func (s *IngestService) split(doc *model.Document, pages []pdfextract.Page) ([]vectorstore.Chunk, error) {
	var chunks []vectorstore.Chunk
	for _, page := range pages {
		parts, err := s.splitter.SplitText(page.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to split page %d: %w", page.Number, err)
		}
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			idx := len(chunks)
			chunks = append(chunks, vectorstore.Chunk{
				ID:      fmt.Sprintf("%d:%d", doc.ID, idx),
				Content: part,
				Source:  doc.Filename,
				Page:    page.Number,
				Index:   idx,
			})
		}
	}
	return chunks, nil
}

func failureReason(err error) string {
	var pe *ai.ProviderError
	if errors.As(err, &pe) {
		return pe.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "document processing timed out, please try again"
	}
	return err.Error()
}
