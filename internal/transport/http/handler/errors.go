package handler

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"docqa/internal/ai"
	"docqa/internal/app"
	"docqa/internal/transport/http/response"
)

// Error kinds reported in WebSocket error frames.
const (
	kindValidation = "validation"
	kindNotReady   = "not_ready"
	kindNotFound   = "not_found"
	kindProvider   = "provider"
	kindTimeout    = "timeout"
	kindBusy       = "busy"
	kindInternal   = "internal"
)

type errorInfo struct {
	status  int
	code    int
	kind    string
	message string
}

// describeError maps a service error onto what the client sees. Unknown errors
// are logged and replaced by a generic message.
func describeError(err error) errorInfo {
	var pe *ai.ProviderError
	switch {
	case errors.As(err, &pe):
		switch pe.Kind {
		case ai.KindRateLimit:
			return errorInfo{http.StatusTooManyRequests, response.CodeRateLimited, kindProvider, pe.Message}
		case ai.KindTimeout:
			return errorInfo{http.StatusGatewayTimeout, response.CodeTimeout, kindTimeout, pe.Message}
		default:
			return errorInfo{http.StatusBadGateway, response.CodeProvider, kindProvider, pe.Message}
		}
	case errors.Is(err, app.ErrQuestionRequired):
		return errorInfo{http.StatusBadRequest, response.CodeQuestionRequired, kindValidation, "Question is required"}
	case errors.Is(err, app.ErrNotPDF):
		return errorInfo{http.StatusBadRequest, response.CodeNotPDF, kindValidation, "Only PDF files are supported"}
	case errors.Is(err, app.ErrEmptyFile):
		return errorInfo{http.StatusBadRequest, response.CodeEmptyFile, kindValidation, err.Error()}
	case errors.Is(err, app.ErrFileTooLarge):
		return errorInfo{http.StatusRequestEntityTooLarge, response.CodeFileTooLarge, kindValidation, err.Error()}
	case errors.Is(err, app.ErrInvalidInput):
		return errorInfo{http.StatusBadRequest, response.CodeBadRequest, kindValidation, err.Error()}
	case errors.Is(err, app.ErrDocumentNotFound):
		return errorInfo{http.StatusNotFound, response.CodeDocumentNotFound, kindNotFound, err.Error()}
	case errors.Is(err, app.ErrDocumentNotReady), errors.Is(err, app.ErrNoDocuments):
		return errorInfo{http.StatusConflict, response.CodeDocumentNotReady, kindNotReady, err.Error()}
	case errors.Is(err, app.ErrTimeout):
		return errorInfo{http.StatusGatewayTimeout, response.CodeTimeout, kindTimeout, app.ErrTimeout.Error()}
	case errors.Is(err, app.ErrDispatch):
		log.Error().Err(err).Msg("ingest dispatch failed")
		return errorInfo{http.StatusServiceUnavailable, response.CodeUnavailable, kindInternal, app.ErrDispatch.Error()}
	default:
		log.Error().Err(err).Msg("unexpected error")
		return errorInfo{http.StatusInternalServerError, response.CodeInternalServer, kindInternal, "internal server error"}
	}
}
