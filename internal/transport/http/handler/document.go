package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"docqa/internal/app"
	"docqa/internal/model"
	"docqa/internal/transport/http/response"
)

// multipartOverhead leaves room for boundaries and headers around the file part.
const multipartOverhead = 1 << 20

type DocumentHandler struct {
	documents *app.DocumentService
}

type uploadResponse struct {
	DocumentID uint                 `json:"document_id"`
	Status     model.DocumentStatus `json:"status"`
	Filename   string               `json:"filename"`
}

func NewDocumentHandler(documents *app.DocumentService) *DocumentHandler {
	return &DocumentHandler{documents: documents}
}

// Upload accepts a multipart form with a "file" PDF part and schedules its ingestion.
func (h *DocumentHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.documents.MaxBytes()+multipartOverhead)

	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			info := describeError(app.ErrFileTooLarge)
			response.Error(c, info.status, info.code, info.message)
			return
		}
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "No file provided")
		return
	}

	f, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
		return
	}
	defer f.Close()

	doc, err := h.documents.Upload(c.Request.Context(), app.UploadInput{
		Filename: file.Filename,
		Size:     file.Size,
		Content:  f,
	})
	if err != nil {
		info := describeError(err)
		if doc != nil {
			response.ErrorWithData(c, info.status, info.code, info.message, toUploadResponse(doc))
			return
		}
		response.Error(c, info.status, info.code, info.message)
		return
	}

	response.OK(c, toUploadResponse(doc))
}

func (h *DocumentHandler) Get(c *gin.Context) {
	id, err := parseUintParam(c, "id")
	if err != nil || id == 0 {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document id")
		return
	}
	doc, err := h.documents.Get(id)
	if err != nil {
		info := describeError(err)
		response.Error(c, info.status, info.code, info.message)
		return
	}
	response.OK(c, doc)
}

// List returns documents newest first; ?status= filters and ?limit= caps the result.
func (h *DocumentHandler) List(c *gin.Context) {
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	docs, err := h.documents.List(c.Query("status"), limit)
	if err != nil {
		info := describeError(err)
		response.Error(c, info.status, info.code, info.message)
		return
	}
	response.OK(c, gin.H{"documents": docs})
}

func toUploadResponse(doc *model.Document) uploadResponse {
	return uploadResponse{
		DocumentID: doc.ID,
		Status:     doc.Status,
		Filename:   doc.Filename,
	}
}

func parseUintParam(c *gin.Context, key string) (uint, error) {
	s := c.Param(key)
	u, err := strconv.ParseUint(s, 10, 64)
	return uint(u), err
}
