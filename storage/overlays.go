package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/BaSui01/inkflow/config"
)

// ProviderOverlays 从 provider_configs / user_provider_configs 读取覆盖配置, 实现 config.OverlaySource.
type ProviderOverlays struct {
	db   *gorm.DB
	opts options
}

func NewProviderOverlays(db *gorm.DB, opts ...Option) *ProviderOverlays {
	return &ProviderOverlays{db: db, opts: buildOptions(opts)}
}

var _ config.OverlaySource = (*ProviderOverlays)(nil)

func (p *ProviderOverlays) GlobalOverlay(ctx context.Context, category, provider string) (*config.ProviderOverlay, error) {
	done := p.opts.observe("global_overlay")
	defer done()

	var row ProviderConfig
	err := p.db.WithContext(ctx).
		Where("category = ? AND provider_name = ?", category, provider).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load provider config %s/%s: %w", category, provider, err)
	}
	return &config.ProviderOverlay{
		Type:               row.Type,
		APIKey:             row.APIKey,
		BaseURL:            row.BaseURL,
		Model:              row.Model,
		Quality:            row.Quality,
		DefaultSize:        row.DefaultSize,
		DefaultAspectRatio: row.DefaultAspectRatio,
	}, nil
}

func (p *ProviderOverlays) UserOverlay(ctx context.Context, userID, category, provider string) (*config.ProviderOverlay, error) {
	if userID == "" {
		return nil, nil
	}
	done := p.opts.observe("user_overlay")
	defer done()

	var row UserProviderConfig
	err := p.db.WithContext(ctx).
		Where("user_id = ? AND category = ? AND provider_name = ?", userID, category, provider).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user provider config %s/%s: %w", category, provider, err)
	}
	return &config.ProviderOverlay{
		APIKey:             row.APIKey,
		BaseURL:            row.BaseURL,
		Model:              row.Model,
		Quality:            row.Quality,
		DefaultSize:        row.DefaultSize,
		DefaultAspectRatio: row.DefaultAspectRatio,
	}, nil
}

// SaveGlobal 写入或更新全局覆盖.
func (p *ProviderOverlays) SaveGlobal(ctx context.Context, row *ProviderConfig) error {
	return p.db.WithContext(ctx).
		Where(ProviderConfig{Category: row.Category, ProviderName: row.ProviderName}).
		Assign(*row).
		FirstOrCreate(row).Error
}

// SaveUser 写入或更新用户覆盖.
func (p *ProviderOverlays) SaveUser(ctx context.Context, row *UserProviderConfig) error {
	return p.db.WithContext(ctx).
		Where(UserProviderConfig{UserID: row.UserID, Category: row.Category, ProviderName: row.ProviderName}).
		Assign(*row).
		FirstOrCreate(row).Error
}
