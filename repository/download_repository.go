package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ReleaseKit/model"

	"gorm.io/gorm"
)

// DownloadRepository 下载记录数据访问接口
//
// 所有状态变更都是带前置状态的条件更新（WHERE status = from），返回值 bool
// 表示本次调用是否真正完成了状态迁移。
type DownloadRepository interface {
	Create(ctx context.Context, d *model.GeneratedDownload) error
	GetByID(ctx context.Context, id int64) (*model.GeneratedDownload, error)
	GetByPublicID(ctx context.Context, publicID string) (*model.GeneratedDownload, error)

	// FindReady 返回同一 (release, user, format) 下最新的、在 now 时仍未过期的 READY 记录
	FindReady(ctx context.Context, releaseID, userID int64, format model.DownloadFormat, now time.Time) (*model.GeneratedDownload, error)
	// FindInFlight 返回 since 之后创建的 PENDING / PROCESSING 记录
	FindInFlight(ctx context.Context, releaseID, userID int64, format model.DownloadFormat, since time.Time) (*model.GeneratedDownload, error)

	MarkProcessing(ctx context.Context, id int64, now time.Time) (bool, error)
	MarkReady(ctx context.Context, id int64, artifactKey string, size int64, expiresAt, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, id int64, from model.DownloadStatus, reason string, now time.Time) (bool, error)
	MarkExpired(ctx context.Context, id int64, now time.Time) (bool, error)
	ClearArtifact(ctx context.Context, id int64, now time.Time) error

	ListPending(ctx context.Context, limit int) ([]model.GeneratedDownload, error)
	ListExpiredReady(ctx context.Context, now time.Time, limit int) ([]model.GeneratedDownload, error)
	ListStuck(ctx context.Context, startedBefore time.Time) ([]model.GeneratedDownload, error)
	ListPurgeable(ctx context.Context, limit int) ([]model.GeneratedDownload, error)
}

type gormDownloadRepository struct {
	db *gorm.DB
}

// NewGormDownloadRepository 创建 GORM 下载记录仓库
func NewGormDownloadRepository(db *gorm.DB) DownloadRepository {
	return &gormDownloadRepository{db: db}
}

func (r *gormDownloadRepository) Create(ctx context.Context, d *model.GeneratedDownload) error {
	if err := r.db.WithContext(ctx).Create(d).Error; err != nil {
		return translateError(fmt.Errorf("failed to create download for release %d: %w", d.ReleaseID, err))
	}
	return nil
}

func (r *gormDownloadRepository) first(ctx context.Context, query *gorm.DB) (*model.GeneratedDownload, error) {
	var d model.GeneratedDownload
	err := query.WithContext(ctx).First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

func (r *gormDownloadRepository) GetByID(ctx context.Context, id int64) (*model.GeneratedDownload, error) {
	d, err := r.first(ctx, r.db.Where("id = ?", id))
	if err != nil {
		return nil, fmt.Errorf("failed to get download %d: %w", id, err)
	}
	return d, nil
}

func (r *gormDownloadRepository) GetByPublicID(ctx context.Context, publicID string) (*model.GeneratedDownload, error) {
	d, err := r.first(ctx, r.db.Where("public_id = ?", publicID))
	if err != nil {
		return nil, fmt.Errorf("failed to get download %s: %w", publicID, err)
	}
	return d, nil
}

func (r *gormDownloadRepository) FindReady(ctx context.Context, releaseID, userID int64, format model.DownloadFormat, now time.Time) (*model.GeneratedDownload, error) {
	d, err := r.first(ctx, r.db.
		Where("release_id = ? AND user_id = ? AND format = ?", releaseID, userID, format).
		Where("status = ? AND expires_at > ?", model.DownloadReady, now).
		Order("expires_at DESC, id DESC"))
	if err != nil {
		return nil, fmt.Errorf("failed to find ready download: %w", err)
	}
	return d, nil
}

func (r *gormDownloadRepository) FindInFlight(ctx context.Context, releaseID, userID int64, format model.DownloadFormat, since time.Time) (*model.GeneratedDownload, error) {
	d, err := r.first(ctx, r.db.
		Where("release_id = ? AND user_id = ? AND format = ?", releaseID, userID, format).
		Where("status IN ? AND created_at > ?", []model.DownloadStatus{model.DownloadPending, model.DownloadProcessing}, since).
		Order("id DESC"))
	if err != nil {
		return nil, fmt.Errorf("failed to find in-flight download: %w", err)
	}
	return d, nil
}

// transition 条件更新，只有当前状态等于 from 时才生效
func (r *gormDownloadRepository) transition(ctx context.Context, id int64, from model.DownloadStatus, updates map[string]interface{}) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.GeneratedDownload{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("failed to update download %d from %s: %w", id, from, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *gormDownloadRepository) MarkProcessing(ctx context.Context, id int64, now time.Time) (bool, error) {
	return r.transition(ctx, id, model.DownloadPending, map[string]interface{}{
		"status":     model.DownloadProcessing,
		"started_at": now,
		"updated_at": now,
	})
}

func (r *gormDownloadRepository) MarkReady(ctx context.Context, id int64, artifactKey string, size int64, expiresAt, now time.Time) (bool, error) {
	return r.transition(ctx, id, model.DownloadProcessing, map[string]interface{}{
		"status":         model.DownloadReady,
		"artifact_key":   artifactKey,
		"artifact_size":  size,
		"expires_at":     expiresAt,
		"failure_reason": "",
		"updated_at":     now,
	})
}

func (r *gormDownloadRepository) MarkFailed(ctx context.Context, id int64, from model.DownloadStatus, reason string, now time.Time) (bool, error) {
	return r.transition(ctx, id, from, map[string]interface{}{
		"status":         model.DownloadFailed,
		"failure_reason": model.TruncateFailureReason(reason),
		"expires_at":     nil,
		"updated_at":     now,
	})
}

func (r *gormDownloadRepository) MarkExpired(ctx context.Context, id int64, now time.Time) (bool, error) {
	return r.transition(ctx, id, model.DownloadReady, map[string]interface{}{
		"status":     model.DownloadExpired,
		"updated_at": now,
	})
}

func (r *gormDownloadRepository) ClearArtifact(ctx context.Context, id int64, now time.Time) error {
	err := r.db.WithContext(ctx).Model(&model.GeneratedDownload{}).
		Where("id = ? AND status IN ?", id, []model.DownloadStatus{model.DownloadExpired, model.DownloadFailed}).
		Updates(map[string]interface{}{
			"artifact_key":  "",
			"artifact_size": 0,
			"updated_at":    now,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to clear artifact of download %d: %w", id, err)
	}
	return nil
}

func (r *gormDownloadRepository) list(ctx context.Context, query *gorm.DB, what string) ([]model.GeneratedDownload, error) {
	var out []model.GeneratedDownload
	if err := query.WithContext(ctx).Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list %s downloads: %w", what, err)
	}
	return out, nil
}

func (r *gormDownloadRepository) ListPending(ctx context.Context, limit int) ([]model.GeneratedDownload, error) {
	return r.list(ctx, r.db.Where("status = ?", model.DownloadPending).Limit(limit), "pending")
}

func (r *gormDownloadRepository) ListExpiredReady(ctx context.Context, now time.Time, limit int) ([]model.GeneratedDownload, error) {
	return r.list(ctx, r.db.
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", model.DownloadReady, now).
		Limit(limit), "expired")
}

func (r *gormDownloadRepository) ListStuck(ctx context.Context, startedBefore time.Time) ([]model.GeneratedDownload, error) {
	return r.list(ctx, r.db.
		Where("status = ? AND started_at < ?", model.DownloadProcessing, startedBefore), "stuck")
}

func (r *gormDownloadRepository) ListPurgeable(ctx context.Context, limit int) ([]model.GeneratedDownload, error) {
	return r.list(ctx, r.db.
		Where("status IN ? AND artifact_key <> ''", []model.DownloadStatus{model.DownloadExpired, model.DownloadFailed}).
		Limit(limit), "purgeable")
}
