package app

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"docqa/internal/model"
	"docqa/internal/repository"
)

var pdfMagic = []byte("%PDF-")

type DocumentService struct {
	repo       *repository.DocumentRepository
	dispatcher IngestDispatcher
	uploadsDir string
	maxBytes   int64
	lease      time.Duration
}

type DocumentOption func(*DocumentService)

// WithProcessingLease sets how long a processing document is left alone before
// Reprocess and ResumePending treat its run as lost.
func WithProcessingLease(d time.Duration) DocumentOption {
	return func(s *DocumentService) {
		if d > 0 {
			s.lease = d
		}
	}
}

func NewDocumentService(
	repo *repository.DocumentRepository,
	dispatcher IngestDispatcher,
	uploadsDir string,
	maxBytes int64,
	opts ...DocumentOption,
) *DocumentService {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	s := &DocumentService{
		repo:       repo,
		dispatcher: dispatcher,
		uploadsDir: uploadsDir,
		maxBytes:   maxBytes,
		lease:      ProcessingLease(0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetDispatcher swaps the dispatcher; bootstrap needs it because the local
// dispatcher depends on services built after this one.
func (s *DocumentService) SetDispatcher(d IngestDispatcher) {
	s.dispatcher = d
}

func (s *DocumentService) MaxBytes() int64 {
	return s.maxBytes
}

type UploadInput struct {
	Filename string
	Size     int64
	Content  io.Reader
}

// Upload validates and stores a PDF, records it as uploaded and schedules ingestion.
// Every upload gets its own stored file and record, even for a repeated filename.
func (s *DocumentService) Upload(ctx context.Context, input UploadInput) (*model.Document, error) {
	name := filepath.Base(strings.TrimSpace(input.Filename))
	if name == "" || name == "." || name == string(filepath.Separator) || input.Content == nil {
		return nil, ErrInvalidInput
	}
	if strings.ToLower(filepath.Ext(name)) != ".pdf" {
		return nil, ErrNotPDF
	}
	if input.Size > s.maxBytes {
		return nil, ErrFileTooLarge
	}

	reader := bufio.NewReader(input.Content)
	head, err := reader.Peek(len(pdfMagic))
	if len(head) == 0 && (err == io.EOF || err == nil) {
		return nil, ErrEmptyFile
	}
	if !bytes.Equal(head, pdfMagic) {
		return nil, ErrNotPDF
	}

	storedPath, err := s.store(reader)
	if err != nil {
		return nil, err
	}

	doc := &model.Document{
		Filename: name,
		FilePath: storedPath,
		Status:   model.DocumentStatusUploaded,
	}
	if err := s.repo.Create(doc); err != nil {
		_ = os.Remove(storedPath)
		return nil, err
	}
	log.Info().Uint("document_id", doc.ID).Str("filename", name).Str("path", storedPath).Msg("document uploaded")

	if s.dispatcher == nil {
		return s.dispatchFailed(doc, errors.New("no dispatcher configured"))
	}
	if err := s.dispatcher.Dispatch(ctx, doc.ID); err != nil {
		return s.dispatchFailed(doc, err)
	}
	return doc, nil
}

func (s *DocumentService) store(r io.Reader) (string, error) {
	if err := os.MkdirAll(s.uploadsDir, 0o755); err != nil {
		return "", fmt.Errorf("create uploads dir failed: %w", err)
	}
	path := filepath.Join(s.uploadsDir, uuid.NewString()+".pdf")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create upload file failed: %w", err)
	}

	n, copyErr := io.Copy(f, io.LimitReader(r, s.maxBytes+1))
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(path)
		if copyErr != nil {
			return "", fmt.Errorf("write upload file failed: %w", copyErr)
		}
		return "", fmt.Errorf("close upload file failed: %w", closeErr)
	}
	if n > s.maxBytes {
		_ = os.Remove(path)
		return "", ErrFileTooLarge
	}
	return path, nil
}

func (s *DocumentService) dispatchFailed(doc *model.Document, cause error) (*model.Document, error) {
	log.Error().Err(cause).Uint("document_id", doc.ID).Msg("dispatch ingestion failed")
	reason := ErrDispatch.Error()
	if err := s.repo.MarkFailed(doc.ID, reason); err != nil {
		log.Error().Err(err).Uint("document_id", doc.ID).Msg("record dispatch failure failed")
	}
	doc.Status = model.DocumentStatusFailed
	doc.FailureReason = reason
	return doc, fmt.Errorf("%w: %v", ErrDispatch, cause)
}

func (s *DocumentService) Get(id uint) (*model.Document, error) {
	if id == 0 {
		return nil, ErrInvalidInput
	}
	doc, err := s.repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

// List returns documents newest first, optionally filtered by status.
func (s *DocumentService) List(status string, limit int) ([]model.Document, error) {
	st := model.DocumentStatus(strings.TrimSpace(status))
	switch st {
	case "", model.DocumentStatusUploaded, model.DocumentStatusProcessing,
		model.DocumentStatusReady, model.DocumentStatusFailed:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	return s.repo.List(st, limit)
}

// Reprocess schedules ingestion again for a document that never became ready,
// including one stuck in processing past its lease.
func (s *DocumentService) Reprocess(ctx context.Context, id uint) (*model.Document, error) {
	doc, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if !s.retryable(doc) {
		return nil, fmt.Errorf("%w: document %d is %s", ErrInvalidInput, id, doc.Status)
	}
	if s.dispatcher == nil {
		return nil, ErrDispatch
	}
	if err := s.dispatcher.Dispatch(ctx, id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDispatch, err)
	}
	return doc, nil
}

// ResumePending dispatches every uploaded document and every processing one whose
// lease ran out. It returns how many were dispatched.
func (s *DocumentService) ResumePending(ctx context.Context) (int, error) {
	if s.dispatcher == nil {
		return 0, ErrDispatch
	}
	pending, err := s.repo.List(model.DocumentStatusUploaded, 200)
	if err != nil {
		return 0, err
	}
	stale, err := s.repo.ListStale(time.Now().Add(-s.lease))
	if err != nil {
		return 0, err
	}

	n := 0
	for _, doc := range append(pending, stale...) {
		if err := s.dispatcher.Dispatch(ctx, doc.ID); err != nil {
			return n, fmt.Errorf("%w: %v", ErrDispatch, err)
		}
		n++
	}
	return n, nil
}

func (s *DocumentService) retryable(doc *model.Document) bool {
	switch doc.Status {
	case model.DocumentStatusUploaded, model.DocumentStatusFailed:
		return true
	case model.DocumentStatusProcessing:
		return time.Since(doc.UpdatedAt) > s.lease
	default:
		return false
	}
}
