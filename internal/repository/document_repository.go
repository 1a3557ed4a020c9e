package repository

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"docqa/internal/model"
)

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(doc *model.Document) error {
	if err := r.db.Create(doc).Error; err != nil {
		return fmt.Errorf("create document failed: %w", err)
	}
	return nil
}

// GetByID returns nil, nil when the document does not exist.
func (r *DocumentRepository) GetByID(id uint) (*model.Document, error) {
	var doc model.Document
	if err := r.db.Where("id = ?", id).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) ListByIDs(ids []uint) ([]model.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var docs []model.Document
	if err := r.db.Where("id IN ?", ids).Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("list documents by ids failed: %w", err)
	}
	return docs, nil
}

// List returns the newest documents first; an empty status lists every status.
func (r *DocumentRepository) List(status model.DocumentStatus, limit int) ([]model.Document, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	q := r.db.Model(&model.Document{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var docs []model.Document
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("list documents failed: %w", err)
	}
	return docs, nil
}

// TransitionStatus moves the document to `to` only if its current status is one of `from`.
// It reports whether this call performed the transition, so concurrent callers see exactly one winner.
func (r *DocumentRepository) TransitionStatus(id uint, from []model.DocumentStatus, to model.DocumentStatus) (bool, error) {
	res := r.db.Model(&model.Document{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]interface{}{
			"status":         to,
			"failure_reason": "",
		})
	if res.Error != nil {
		return false, fmt.Errorf("transition document status failed: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ClaimForProcessing moves an uploaded or failed document to processing. A document
// already processing is claimed only when it was last touched before staleBefore,
// which recovers runs lost to a crash.
func (r *DocumentRepository) ClaimForProcessing(id uint, staleBefore time.Time) (bool, error) {
	res := r.db.Model(&model.Document{}).
		Where("id = ?", id).
		Where(r.db.Where("status IN ?", []model.DocumentStatus{model.DocumentStatusUploaded, model.DocumentStatusFailed}).
			Or("status = ? AND updated_at < ?", model.DocumentStatusProcessing, staleBefore)).
		Updates(map[string]interface{}{
			"status":         model.DocumentStatusProcessing,
			"failure_reason": "",
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return false, fmt.Errorf("claim document failed: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ReleaseProcessing puts a processing document back to uploaded so it can be claimed again.
func (r *DocumentRepository) ReleaseProcessing(id uint) error {
	err := r.db.Model(&model.Document{}).
		Where("id = ? AND status = ?", id, model.DocumentStatusProcessing).
		Updates(map[string]interface{}{
			"status":         model.DocumentStatusUploaded,
			"failure_reason": "",
		}).Error
	if err != nil {
		return fmt.Errorf("release document failed: %w", err)
	}
	return nil
}

// ListStale returns processing documents last touched before staleBefore.
func (r *DocumentRepository) ListStale(staleBefore time.Time) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.Where("status = ? AND updated_at < ?", model.DocumentStatusProcessing, staleBefore).
		Order("id ASC").
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("list stale documents failed: %w", err)
	}
	return docs, nil
}

func (r *DocumentRepository) MarkReady(id uint, indexPath string, chunkCount int) error {
	err := r.db.Model(&model.Document{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":         model.DocumentStatusReady,
			"index_path":     indexPath,
			"chunk_count":    chunkCount,
			"failure_reason": "",
		}).Error
	if err != nil {
		return fmt.Errorf("mark document ready failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) MarkFailed(id uint, reason string) error {
	err := r.db.Model(&model.Document{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":         model.DocumentStatusFailed,
			"failure_reason": reason,
		}).Error
	if err != nil {
		return fmt.Errorf("mark document failed failed: %w", err)
	}
	return nil
}
