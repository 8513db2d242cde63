package repository

import (
	"context"
	"errors"
	"fmt"

	"ReleaseKit/model"

	"gorm.io/gorm"
)

// ReleaseRepository 发行相关的只读数据访问接口
type ReleaseRepository interface {
	// GetByID 根据ID获取发行（含艺人信息）
	GetByID(ctx context.Context, id int64) (*model.Release, error)

	// GetWithTracks 获取发行及其全部曲目，曲目按曲序、ID 排序
	GetWithTracks(ctx context.Context, id int64) (*model.Release, error)

	// Create 仅用于数据导入与测试
	Create(ctx context.Context, release *model.Release) error
}

type gormReleaseRepository struct {
	db *gorm.DB
}

// NewGormReleaseRepository 创建 GORM 发行仓库
func NewGormReleaseRepository(db *gorm.DB) ReleaseRepository {
	return &gormReleaseRepository{db: db}
}

func (r *gormReleaseRepository) GetByID(ctx context.Context, id int64) (*model.Release, error) {
	var release model.Release
	err := r.db.WithContext(ctx).
		Preload("Artist").
		First(&release, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get release %d: %w", id, err)
	}
	return &release, nil
}

func (r *gormReleaseRepository) GetWithTracks(ctx context.Context, id int64) (*model.Release, error) {
	var release model.Release
	err := r.db.WithContext(ctx).
		Preload("Artist").
		Preload("Tracks", func(db *gorm.DB) *gorm.DB {
			return db.Order("track_number IS NULL, track_number ASC, id ASC")
		}).
		First(&release, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get release %d with tracks: %w", id, err)
	}
	// 数据库方言对 NULL 排序不一致，这里再排一次保证顺序确定
	model.SortTracks(release.Tracks)
	return &release, nil
}

func (r *gormReleaseRepository) Create(ctx context.Context, release *model.Release) error {
	return translateError(r.db.WithContext(ctx).Create(release).Error)
}
