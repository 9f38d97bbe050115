package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/inkflow/types"
)

// DefaultActiveProvider 是新建注册表文件时的默认提供者名.
const DefaultActiveProvider = "image_api"

// ProviderEntry 是注册表里的一个图像提供者.
type ProviderEntry struct {
	Type               string `yaml:"type,omitempty" json:"type,omitempty"`
	APIKey             string `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	BaseURL            string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	Model              string `yaml:"model,omitempty" json:"model,omitempty"`
	EndpointType       string `yaml:"endpoint_type,omitempty" json:"endpoint_type,omitempty"`
	DefaultAspectRatio string `yaml:"default_aspect_ratio,omitempty" json:"default_aspect_ratio,omitempty"`
	DefaultSize        string `yaml:"default_size,omitempty" json:"default_size,omitempty"`
	ImageSize          string `yaml:"image_size,omitempty" json:"image_size,omitempty"`
	Quality            string `yaml:"quality,omitempty" json:"quality,omitempty"`
	// 单位秒
	Timeout         int    `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	DownloadTimeout int    `yaml:"download_timeout,omitempty" json:"download_timeout,omitempty"`
	ReferenceMaxKB  int    `yaml:"reference_max_kb,omitempty" json:"reference_max_kb,omitempty"`
	Selection       string `yaml:"selection,omitempty" json:"selection,omitempty"`
}

// ProviderFile 是 image_providers.yaml 的结构.
type ProviderFile struct {
	ActiveProvider string                   `yaml:"active_provider" json:"active_provider"`
	Providers      map[string]ProviderEntry `yaml:"providers" json:"providers"`
}

func (f *ProviderFile) clone() *ProviderFile {
	c := &ProviderFile{ActiveProvider: f.ActiveProvider, Providers: make(map[string]ProviderEntry, len(f.Providers))}
	for k, v := range f.Providers {
		c.Providers[k] = v
	}
	return c
}

// Names 返回排序后的提供者名.
func (f *ProviderFile) Names() []string {
	names := make([]string, 0, len(f.Providers))
	for name := range f.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProviderRegistry 持有当前生效的提供者注册表，可在运行时重新加载.
type ProviderRegistry struct {
	path   string
	logger *zap.Logger

	mu      sync.RWMutex
	current *ProviderFile
	loaded  time.Time
}

// LoadProviderRegistry 读取注册表文件. 文件不存在时写入一个空的默认注册表.
func LoadProviderRegistry(path string, logger *zap.Logger) (*ProviderRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &ProviderRegistry{
		path:   path,
		logger: logger.With(zap.String("component", "provider_registry")),
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := r.writeDefault(); err != nil {
			return nil, err
		}
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewStaticProviderRegistry 创建不关联文件的注册表.
func NewStaticProviderRegistry(file ProviderFile) *ProviderRegistry {
	if file.Providers == nil {
		file.Providers = map[string]ProviderEntry{}
	}
	return &ProviderRegistry{
		logger:  zap.NewNop(),
		current: file.clone(),
		loaded:  time.Now(),
	}
}

func (r *ProviderRegistry) writeDefault() error {
	def := ProviderFile{ActiveProvider: DefaultActiveProvider, Providers: map[string]ProviderEntry{}}
	data, err := yaml.Marshal(&def)
	if err != nil {
		return fmt.Errorf("encode default provider registry: %w", err)
	}
	if dir := filepath.Dir(r.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create provider registry dir: %w", err)
		}
	}
	if err := os.WriteFile(r.path, data, 0o600); err != nil {
		return fmt.Errorf("write default provider registry: %w", err)
	}
	r.logger.Info("created default provider registry", zap.String("path", r.path))
	return nil
}

// Reload 重新读取注册表文件. 解析失败时保留旧内容并返回错误.
func (r *ProviderRegistry) Reload() error {
	if r.path == "" {
		return nil
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read provider registry %s: %w", r.path, err)
	}

	var file ProviderFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return types.NewConfigError("provider registry %s is not valid YAML: %v; check indentation (spaces, no tabs) and quotes", filepath.Base(r.path), err)
	}
	if file.ActiveProvider == "" {
		file.ActiveProvider = DefaultActiveProvider
	}
	if file.Providers == nil {
		file.Providers = map[string]ProviderEntry{}
	}

	r.mu.Lock()
	r.current = &file
	r.loaded = time.Now()
	r.mu.Unlock()

	r.logger.Info("provider registry loaded",
		zap.String("active_provider", file.ActiveProvider),
		zap.Strings("providers", file.Names()))
	return nil
}

// Snapshot 返回注册表副本.
func (r *ProviderRegistry) Snapshot() *ProviderFile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current.clone()
}

// LoadedAt 返回最近一次成功加载的时间.
func (r *ProviderRegistry) LoadedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// Lookup 返回指定提供者；name 为空时使用 active_provider.
func (r *ProviderRegistry) Lookup(name string) (string, ProviderEntry, error) {
	file := r.Snapshot()
	if name == "" {
		name = file.ActiveProvider
	}
	if len(file.Providers) == 0 {
		return name, ProviderEntry{}, types.NewConfigError(
			"no image providers configured; add one in settings or edit %s", r.displayPath())
	}
	entry, ok := file.Providers[name]
	if !ok {
		return name, ProviderEntry{}, types.NewConfigError(
			"image provider %q not found; available providers: %s", name, strings.Join(file.Names(), ", ")).
			WithProvider(name)
	}
	return name, entry, nil
}

func (r *ProviderRegistry) displayPath() string {
	if r.path == "" {
		return "the provider registry"
	}
	return filepath.Base(r.path)
}

// Watch 轮询注册表文件，变更后自动 Reload. 返回的 watcher 由调用方 Stop.
func (r *ProviderRegistry) Watch(ctx context.Context, interval time.Duration) (*FileWatcher, error) {
	w, err := NewFileWatcher([]string{r.path},
		WithPollInterval(interval),
		WithWatcherLogger(r.logger))
	if err != nil {
		return nil, err
	}
	w.OnChange(func(evt FileEvent) {
		if evt.Op == FileOpRemove {
			r.logger.Warn("provider registry removed, keeping last configuration", zap.String("path", evt.Path))
			return
		}
		if err := r.Reload(); err != nil {
			r.logger.Error("provider registry reload failed", zap.Error(err))
		}
	})
	if err := w.Start(ctx); err != nil {
		return nil, err
	}
	return w, nil
}
