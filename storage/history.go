package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/inkflow/internal/database"
	"github.com/BaSui01/inkflow/types"
)

const (
	// DefaultHistoryTTL 首次成功后的保留时长
	DefaultHistoryTTL = 7 * 24 * time.Hour

	maxKeywordRunes = 10
	fallbackKeyword = "task"
)

// CreateRecordRequest 新建历史记录的参数.
type CreateRecordRequest struct {
	UserID    string
	TaskID    string
	Title     string
	Outline   string
	PageCount int
}

// HistoryService 管理 histories 表与记录过期.
type HistoryService struct {
	pool   *database.PoolManager
	images *ImageStore
	ttl    time.Duration
	opts   options
	logger *zap.Logger
}

// NewHistoryService ttl<=0 时使用 DefaultHistoryTTL.
func NewHistoryService(pool *database.PoolManager, images *ImageStore, ttl time.Duration, opts ...Option) *HistoryService {
	o := buildOptions(opts)
	if ttl <= 0 {
		ttl = DefaultHistoryTTL
	}
	return &HistoryService{
		pool:   pool,
		images: images,
		ttl:    ttl,
		opts:   o,
		logger: o.logger.With(zap.String("component", "history")),
	}
}

func (s *HistoryService) db(ctx context.Context) *gorm.DB {
	return s.pool.DB().WithContext(ctx)
}

// ExtractKeyword 取标题中的字母、数字与汉字, 最多 10 个字符; 为空时返回 "task".
func ExtractKeyword(title string) string {
	var b strings.Builder
	n := 0
	for _, r := range title {
		if n == maxKeywordRunes {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			n++
		}
	}
	if n == 0 {
		return fallbackKeyword
	}
	return b.String()
}

// CreateRecord 新建草稿记录, 过期时间在第一页生成成功后才开始计算.
func (s *HistoryService) CreateRecord(ctx context.Context, req CreateRecordRequest) (*History, error) {
	if req.UserID == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "user_id is required").WithHTTPStatus(400)
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "title is required").WithHTTPStatus(400)
	}

	rec := &History{
		UserID:    req.UserID,
		TaskID:    req.TaskID,
		Title:     title,
		Outline:   req.Outline,
		Status:    StatusDraft,
		Keyword:   ExtractKeyword(title),
		PageCount: req.PageCount,
	}
	done := s.opts.observe("create_history")
	defer done()
	if err := s.db(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("create history: %w", err)
	}
	return rec, nil
}

// RecordByTaskID 按任务查找记录. userID 为空时不按用户过滤.
func (s *HistoryService) RecordByTaskID(ctx context.Context, userID, taskID string) (*History, error) {
	done := s.opts.observe("get_history")
	defer done()

	q := s.db(ctx).Where("task_id = ?", taskID)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	var rec History
	err := q.Order("id DESC").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrNotFound, "history record not found for task "+taskID).WithHTTPStatus(404)
	}
	if err != nil {
		return nil, fmt.Errorf("get history by task %s: %w", taskID, err)
	}
	return &rec, nil
}

// Keyword 返回任务对应记录的关键词, 没有记录时返回空串.
func (s *HistoryService) Keyword(ctx context.Context, userID, taskID string) (string, error) {
	rec, err := s.RecordByTaskID(ctx, userID, taskID)
	if types.IsErrorCode(err, types.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return rec.Keyword, nil
}

// StartExpiry 设置 expires_at = now + ttl, 已设置过的记录保持不变.
func (s *HistoryService) StartExpiry(ctx context.Context, id uint) error {
	expires := s.opts.now().UTC().Add(s.ttl)
	res := s.db(ctx).Model(&History{}).
		Where("id = ? AND expires_at IS NULL", id).
		Update("expires_at", expires)
	if res.Error != nil {
		return fmt.Errorf("start expiry %d: %w", id, res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Debug("history expiry started", zap.Uint("id", id), zap.Time("expires_at", expires))
		return nil
	}

	var count int64
	if err := s.db(ctx).Model(&History{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("start expiry %d: %w", id, err)
	}
	if count == 0 {
		return types.NewError(types.ErrNotFound, fmt.Sprintf("history record %d not found", id)).WithHTTPStatus(404)
	}
	return nil
}

// OnFirstSuccess 任务第一页成功时开始计算过期; 任务没有历史记录时什么也不做.
func (s *HistoryService) OnFirstSuccess(ctx context.Context, userID, taskID string) error {
	rec, err := s.RecordByTaskID(ctx, userID, taskID)
	if types.IsErrorCode(err, types.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.StartExpiry(ctx, rec.ID)
}

// SyncTaskImages 根据 images 表刷新记录的图片列表、封面缩略图与状态.
func (s *HistoryService) SyncTaskImages(ctx context.Context, userID, taskID string) (*History, error) {
	rec, err := s.RecordByTaskID(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	images, err := s.images.ListTaskImages(ctx, rec.UserID, taskID)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(images))
	thumbnail := ""
	for _, img := range images {
		names = append(names, img.Filename)
		if img.Idx == 0 {
			thumbnail = img.Filename
		}
	}
	if thumbnail == "" && len(names) > 0 {
		thumbnail = names[0]
	}
	encoded, err := json.Marshal(names)
	if err != nil {
		return nil, fmt.Errorf("encode images: %w", err)
	}

	status := StatusCompleted
	switch {
	case len(images) == 0:
		status = StatusDraft
	case rec.PageCount > 0 && len(images) < rec.PageCount:
		status = StatusPartial
	}

	updates := map[string]any{
		"images_json": string(encoded),
		"thumbnail":   thumbnail,
		"status":      status,
	}
	if err := s.db(ctx).Model(rec).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("sync history %s: %w", taskID, err)
	}
	rec.ImagesJSON = string(encoded)
	rec.Thumbnail = thumbnail
	rec.Status = status
	return rec, nil
}

// Images 解码记录中的文件名列表.
func (h *History) Images() []string {
	if h.ImagesJSON == "" {
		return nil
	}
	var names []string
	if err := json.Unmarshal([]byte(h.ImagesJSON), &names); err != nil {
		return nil
	}
	return names
}

// CleanupExpired 删除 expires_at 早于 now 的记录及其图片, 返回删除的记录数.
func (s *HistoryService) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	var expired []History
	err := s.db(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", now.UTC()).
		Find(&expired).Error
	if err != nil {
		return 0, fmt.Errorf("find expired histories: %w", err)
	}

	removed := 0
	for _, rec := range expired {
		err := s.pool.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
			if rec.TaskID != "" {
				if _, err := deleteTaskImages(tx, rec.UserID, rec.TaskID); err != nil {
					return err
				}
			}
			return tx.Delete(&History{}, rec.ID).Error
		})
		if err != nil {
			return removed, fmt.Errorf("delete expired history %d: %w", rec.ID, err)
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("expired histories removed", zap.Int("count", removed))
	}
	return removed, nil
}

// RunCleanup 按固定间隔清理过期记录, 直到 ctx 结束.
func (s *HistoryService) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.CleanupExpired(ctx, s.opts.now()); err != nil {
				s.logger.Error("history cleanup failed", zap.Error(err))
			}
		}
	}
}
