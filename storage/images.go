package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/inkflow/internal/imaging"
	"github.com/BaSui01/inkflow/types"
)

// ImageStore 把生成结果与缩略图写入 images 表.
type ImageStore struct {
	db            *gorm.DB
	thumbnailSide int
	opts          options
	logger        *zap.Logger
}

// NewImageStore thumbnailSide<=0 时使用 imaging.DefaultThumbnailSide.
func NewImageStore(db *gorm.DB, thumbnailSide int, opts ...Option) *ImageStore {
	o := buildOptions(opts)
	if thumbnailSide <= 0 {
		thumbnailSide = imaging.DefaultThumbnailSide
	}
	return &ImageStore{
		db:            db,
		thumbnailSide: thumbnailSide,
		opts:          o,
		logger:        o.logger.With(zap.String("component", "image_store")),
	}
}

// ImageFilename 文件名为 {keyword}{index}.png.
func ImageFilename(keyword string, index int) string {
	return fmt.Sprintf("%s%d.png", keyword, index)
}

// SaveImage 写入或覆盖一页图片. 缩略图生成失败不影响原图保存.
func (s *ImageStore) SaveImage(ctx context.Context, userID, taskID string, index int, keyword string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty image data")
	}
	filename := ImageFilename(keyword, index)

	thumb, err := imaging.Thumbnail(data, s.thumbnailSide)
	if err != nil {
		s.logger.Warn("thumbnail generation failed",
			zap.String("task_id", taskID), zap.String("filename", filename), zap.Error(err))
		thumb = nil
	}

	row := Image{
		UserID:        userID,
		TaskID:        taskID,
		Idx:           index,
		Filename:      filename,
		ImageData:     data,
		ThumbnailData: thumb,
		CreatedAt:     s.opts.now().UTC(),
	}

	done := s.opts.observe("save_image")
	defer done()
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "task_id"}, {Name: "filename"}},
		DoUpdates: clause.AssignmentColumns([]string{"idx", "image_data", "thumbnail_data", "created_at"}),
	}).Create(&row).Error
	if err != nil {
		return "", fmt.Errorf("save image %s/%s: %w", taskID, filename, err)
	}
	return filename, nil
}

// GetImage 读取图片; thumbnail 为 true 且存在缩略图时返回缩略图.
func (s *ImageStore) GetImage(ctx context.Context, userID, taskID, filename string, thumbnail bool) ([]byte, error) {
	done := s.opts.observe("get_image")
	defer done()

	var row Image
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND task_id = ? AND filename = ?", userID, taskID, filename).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrNotFound, "image not found").WithHTTPStatus(404)
	}
	if err != nil {
		return nil, fmt.Errorf("get image %s/%s: %w", taskID, filename, err)
	}
	if thumbnail && len(row.ThumbnailData) > 0 {
		return row.ThumbnailData, nil
	}
	return row.ImageData, nil
}

// LoadCoverImage 按任务状态记录的封面文件名读取原图; filename 为空时取索引 0.
// 不存在时 ok=false.
func (s *ImageStore) LoadCoverImage(ctx context.Context, userID, taskID, filename string) ([]byte, bool, error) {
	done := s.opts.observe("load_cover")
	defer done()

	q := s.db.WithContext(ctx).Where("task_id = ?", taskID)
	if filename != "" {
		q = q.Where("filename = ?", filename)
	} else {
		q = q.Where("idx = ?", 0)
	}
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	var row Image
	err := q.Order("created_at DESC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load cover %s: %w", taskID, err)
	}
	return row.ImageData, true, nil
}

// ListTaskImages 返回任务的图片元数据 (不含二进制), 按索引升序.
func (s *ImageStore) ListTaskImages(ctx context.Context, userID, taskID string) ([]Image, error) {
	done := s.opts.observe("list_images")
	defer done()

	var rows []Image
	err := s.db.WithContext(ctx).
		Select("id", "user_id", "task_id", "idx", "filename", "created_at").
		Where("user_id = ? AND task_id = ?", userID, taskID).
		Order("idx ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list images %s: %w", taskID, err)
	}
	return rows, nil
}

// DeleteTaskImages 删除任务的全部图片, 返回删除行数.
func (s *ImageStore) DeleteTaskImages(ctx context.Context, userID, taskID string) (int64, error) {
	return deleteTaskImages(s.db.WithContext(ctx), userID, taskID)
}

func deleteTaskImages(tx *gorm.DB, userID, taskID string) (int64, error) {
	res := tx.Where("user_id = ? AND task_id = ?", userID, taskID).Delete(&Image{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete images %s: %w", taskID, res.Error)
	}
	return res.RowsAffected, nil
}
