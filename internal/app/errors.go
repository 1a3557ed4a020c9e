package app

import (
	"errors"
	"fmt"

	"docqa/internal/model"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotPDF            = errors.New("only PDF files are supported")
	ErrEmptyFile         = errors.New("uploaded file is empty")
	ErrFileTooLarge      = errors.New("file too large")
	ErrDocumentNotFound  = errors.New("document not found")
	ErrDocumentNotReady  = errors.New("document is not ready")
	ErrQuestionRequired  = errors.New("question is required")
	ErrNoDocuments       = errors.New("no documents have been uploaded and processed yet, please upload a document first")
	ErrDispatch          = errors.New("could not schedule document processing")
	ErrTimeout           = errors.New("the request timed out, please try again")
	ErrIngestInterrupted = errors.New("document ingestion interrupted")
)

// NotReadyError is returned when a question targets a document whose index is not usable yet.
type NotReadyError struct {
	DocumentID uint
	Status     model.DocumentStatus
	Reason     string
}

func (e *NotReadyError) Error() string {
	switch e.Status {
	case model.DocumentStatusFailed:
		if e.Reason != "" {
			return fmt.Sprintf("document %d failed to process: %s", e.DocumentID, e.Reason)
		}
		return fmt.Sprintf("document %d failed to process, please upload it again", e.DocumentID)
	case model.DocumentStatusReady:
		return fmt.Sprintf("document %d has no vector index on disk, please re-process it", e.DocumentID)
	default:
		return fmt.Sprintf("document %d is not ready yet (status: %s), please wait for processing to finish", e.DocumentID, e.Status)
	}
}

func (e *NotReadyError) Is(target error) bool {
	return target == ErrDocumentNotReady
}
