package generation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BaSui01/inkflow/internal/metrics"
	"github.com/BaSui01/inkflow/llm/image"
	"github.com/BaSui01/inkflow/types"
)

const instrumentationName = "github.com/BaSui01/inkflow/generation"

// 运行类型，用于日志与指标
const (
	kindGenerate    = "generate"
	kindRetry       = "retry"
	kindRetryFailed = "retry_failed"
	kindRegenerate  = "regenerate"
)

// Config 编排器配置
type Config struct {
	// 同一次调用内并发生成的页数上限
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency"`
	// 每秒允许发起的生成请求数
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`
	// 令牌桶容量
	RateBurst int `yaml:"rate_burst" json:"rate_burst"`
	// 封面与用户参考图在进程内缓存的时长
	ReferenceTTL time.Duration `yaml:"reference_ttl" json:"reference_ttl"`
	// 事件中图片地址的前缀，最终形如 {prefix}/{task_id}/{filename}
	ImageURLPrefix string `yaml:"image_url_prefix" json:"image_url_prefix"`
}

// DefaultConfig 返回默认编排器配置
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		RateLimit:      1,
		RateBurst:      2,
		ReferenceTTL:   30 * time.Minute,
		ImageURLPrefix: "/api/images",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = d.MaxConcurrency
	}
	if c.RateBurst <= 0 {
		c.RateBurst = d.RateBurst
	}
	if c.ReferenceTTL <= 0 {
		c.ReferenceTTL = d.ReferenceTTL
	}
	if c.ImageURLPrefix == "" {
		c.ImageURLPrefix = d.ImageURLPrefix
	}
	return c
}

func (c Config) limit() rate.Limit {
	if c.RateLimit <= 0 {
		return rate.Inf
	}
	return rate.Limit(c.RateLimit)
}

// GenerateRequest 发起一个任务的整套生成.
type GenerateRequest struct {
	TaskID      string
	UserID      string
	Pages       []types.Page
	FullOutline string
	UserTopic   string
	Keyword     string
	UserImages  [][]byte
}

// PageRequest 重新生成单页，用于 RetrySingle 与 Regenerate.
type PageRequest struct {
	TaskID       string
	UserID       string
	Page         types.Page
	UseReference bool
	FullOutline  string
	UserTopic    string
}

// RetryFailedRequest 重试任务中当前失败的页.
type RetryFailedRequest struct {
	TaskID string
	UserID string
	Pages  []types.Page
}

// Outcome 是单页生成的结果.
type Outcome struct {
	Index    int
	Success  bool
	Filename string
	ImageURL string
	Provider string
	Err      error

	data []byte
}

// Event 把结果转换为进度事件.
func (o *Outcome) Event() types.Event {
	if o.Success {
		return types.Event{Type: types.EventImage, Data: &types.ImageEventData{
			Index:    o.Index,
			Status:   "done",
			ImageURL: o.ImageURL,
			Filename: o.Filename,
			Provider: o.Provider,
		}}
	}
	return types.Event{Type: types.EventError, Data: &types.ErrorEventData{
		Index:     o.Index,
		Status:    "error",
		Message:   errorMessage(o.Err),
		Code:      types.GetErrorCode(o.Err),
		Retryable: types.IsRetryable(o.Err),
	}}
}

// Option 定制 Orchestrator.
type Option func(*Orchestrator)

// WithHistoryHook 设置首次成功回调.
func WithHistoryHook(h HistoryHook) Option {
	return func(o *Orchestrator) { o.history = h }
}

// WithPromptBuilder 替换提示词构建器.
func WithPromptBuilder(b PromptBuilder) Option {
	return func(o *Orchestrator) { o.prompts = b }
}

// WithMetrics 设置 Prometheus 指标收集器.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = c }
}

// WithLogger 设置日志记录器.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// Orchestrator 驱动任务的逐页生成、重试与重新生成，并发出进度事件.
// 它是任务状态的唯一修改者.
type Orchestrator struct {
	cfg      Config
	resolver ProviderResolver
	images   ImageStore
	store    TaskStore
	history  HistoryHook
	prompts  PromptBuilder
	refs     *gocache.Cache
	metrics  *metrics.Collector
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewOrchestrator 创建编排器.
func NewOrchestrator(cfg Config, resolver ProviderResolver, images ImageStore, store TaskStore, opts ...Option) (*Orchestrator, error) {
	cfg = cfg.withDefaults()
	o := &Orchestrator{
		cfg:      cfg,
		resolver: resolver,
		images:   images,
		store:    store,
		history:  noopHistory{},
		refs:     gocache.New(cfg.ReferenceTTL, 2*cfg.ReferenceTTL),
		tracer:   otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	o.logger = o.logger.With(zap.String("component", "orchestrator"))
	if o.prompts == nil {
		b, err := NewTemplatePromptBuilder()
		if err != nil {
			return nil, err
		}
		o.prompts = b
	}
	return o, nil
}

// taskInfo 是单页生成所需的任务上下文.
type taskInfo struct {
	taskID      string
	userID      string
	keyword     string
	fullOutline string
	userTopic   string
	// coverImage 状态里记录的封面文件名, 可能为空
	coverImage string
}

// =============================================================================
// 公开操作
// =============================================================================

// Generate 生成任务的所有页. 先串行生成封面，再并发生成其余页，封面作为
// 其余页的风格参考. 每页恰好发出一个 image 或 error 事件，最后发出一个
// complete 事件后关闭通道. 提供者配置错误在任何页开始前直接返回.
func (o *Orchestrator) Generate(ctx context.Context, req GenerateRequest) (<-chan types.Event, error) {
	if req.TaskID == "" {
		return nil, invalidRequest("task_id is required")
	}
	if err := validatePages(req.Pages); err != nil {
		return nil, err
	}

	provider, err := o.resolveProvider(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	state, err := o.store.Update(ctx, req.TaskID, func(s *TaskState) error {
		if req.UserID != "" {
			s.UserID = req.UserID
		}
		s.FullOutline = req.FullOutline
		s.UserTopic = req.UserTopic
		if req.Keyword != "" {
			s.Keyword = req.Keyword
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(req.UserImages) > 0 {
		o.refs.SetDefault(userImagesKey(req.TaskID), req.UserImages)
	}

	info := infoFromState(state)
	o.logger.Info("开始生成任务",
		zap.String("task_id", req.TaskID),
		zap.Int("pages", len(req.Pages)),
		zap.Int("user_images", len(req.UserImages)),
		zap.String("provider", provider.Name()))

	events := make(chan types.Event, len(req.Pages)+1)
	go o.run(context.WithoutCancel(ctx), kindGenerate, provider, info, req.Pages, req.UserImages, events)
	return events, nil
}

// RetryFailed 重试请求中当前处于失败状态的页，事件协议与 Generate 相同.
// 已成功或未知的页被忽略.
func (o *Orchestrator) RetryFailed(ctx context.Context, req RetryFailedRequest) (<-chan types.Event, error) {
	state, ok, err := o.store.Get(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound(req.TaskID)
	}

	pages := make([]types.Page, 0, len(req.Pages))
	for _, p := range req.Pages {
		if _, failed := state.Failed[p.Index]; failed {
			pages = append(pages, p)
		}
	}
	if err := validatePageSet(pages); err != nil {
		return nil, err
	}

	userID := req.UserID
	if userID == "" {
		userID = state.UserID
	}
	provider, err := o.resolveProvider(ctx, userID)
	if err != nil {
		return nil, err
	}

	info := infoFromState(state)
	info.userID = userID
	o.logger.Info("重试失败页",
		zap.String("task_id", req.TaskID),
		zap.Int("requested", len(req.Pages)),
		zap.Int("failed", len(pages)))

	events := make(chan types.Event, len(pages)+1)
	go o.run(context.WithoutCancel(ctx), kindRetryFailed, provider, info, pages, o.userImages(req.TaskID), events)
	return events, nil
}

// RetrySingle 重新生成一页. UseReference 为 true 且任务已有封面时，以封面为风格参考.
func (o *Orchestrator) RetrySingle(ctx context.Context, req PageRequest) (*Outcome, error) {
	return o.single(ctx, kindRetry, req, false)
}

// Regenerate 重新生成一页已成功的图片并替换它. 失败时保留原图.
func (o *Orchestrator) Regenerate(ctx context.Context, req PageRequest) (*Outcome, error) {
	return o.single(ctx, kindRegenerate, req, true)
}

// GetTaskState 返回任务状态快照；任务不存在时 ok=false.
func (o *Orchestrator) GetTaskState(ctx context.Context, taskID string) (*TaskState, bool, error) {
	return o.store.Get(ctx, taskID)
}

// =============================================================================
// 内部流程
// =============================================================================

func (o *Orchestrator) single(ctx context.Context, kind string, req PageRequest, keepOnFailure bool) (*Outcome, error) {
	if req.TaskID == "" {
		return nil, invalidRequest("task_id is required")
	}
	if err := req.Page.Validate(); err != nil {
		return nil, err
	}

	provider, err := o.resolveProvider(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	state, err := o.store.Update(ctx, req.TaskID, func(s *TaskState) error {
		if req.UserID != "" {
			s.UserID = req.UserID
		}
		if req.FullOutline != "" {
			s.FullOutline = req.FullOutline
		}
		if req.UserTopic != "" {
			s.UserTopic = req.UserTopic
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	info := infoFromState(state)

	var refs [][]byte
	if req.UseReference {
		refs = append(refs, o.userImages(req.TaskID)...)
		if !req.Page.IsCover() && state.HasCover() {
			if cover := o.coverImage(ctx, info); cover != nil {
				refs = append(refs, cover)
			}
		}
	}

	detached := context.WithoutCancel(ctx)
	o.startRun()
	defer o.finishRun()

	out := o.generatePage(detached, provider, info, req.Page, refs, keepOnFailure)
	o.recordRun(kind, boolResult(out.Success))
	return out, nil
}

// run 执行一组页的生成并发出事件. events 的容量必须为 len(pages)+1.
func (o *Orchestrator) run(ctx context.Context, kind string, provider image.Provider, info taskInfo,
	pages []types.Page, userRefs [][]byte, events chan<- types.Event) {
	defer close(events)
	o.startRun()
	defer o.finishRun()

	var (
		mu            sync.Mutex
		completed     int
		failedIndices []int
	)
	emit := func(out *Outcome) {
		mu.Lock()
		if out.Success {
			completed++
		} else {
			failedIndices = append(failedIndices, out.Index)
		}
		mu.Unlock()
		o.recordEvent(out.Event())
		events <- out.Event()
	}

	cover, rest := splitCover(pages)

	var coverRef []byte
	if cover != nil {
		out := o.generatePage(ctx, provider, info, *cover, userRefs, false)
		emit(out)
		if out.Success {
			coverRef = out.data
		}
	} else if len(rest) > 0 {
		coverRef = o.coverImage(ctx, info)
	}

	refs := append([][]byte(nil), userRefs...)
	if coverRef != nil {
		refs = append(refs, coverRef)
	}

	limiter := rate.NewLimiter(o.cfg.limit(), o.cfg.RateBurst)
	var g errgroup.Group
	g.SetLimit(o.cfg.MaxConcurrency)
	for _, page := range rest {
		g.Go(func() error {
			if err := limiter.Wait(ctx); err != nil {
				emit(&Outcome{Index: page.Index, Provider: provider.Name(),
					Err: types.NewError(types.ErrInternalError, "rate limiter").WithCause(err)})
				return nil
			}
			emit(o.generatePage(ctx, provider, info, page, refs, false))
			return nil
		})
	}
	_ = g.Wait()

	sort.Ints(failedIndices)
	done := &types.CompleteEventData{
		TaskID:        info.taskID,
		Total:         len(pages),
		Completed:     completed,
		Failed:        len(failedIndices),
		FailedIndices: failedIndices,
	}
	if done.FailedIndices == nil {
		done.FailedIndices = []int{}
	}
	complete := types.Event{Type: types.EventComplete, Data: done}
	o.recordEvent(complete)
	events <- complete

	o.recordRun(kind, runResult(done))
	o.logger.Info("任务生成结束",
		zap.String("task_id", info.taskID),
		zap.String("kind", kind),
		zap.Int("total", done.Total),
		zap.Int("completed", done.Completed),
		zap.Ints("failed_indices", done.FailedIndices))
}

// generatePage 生成、保存并记录一页. keepOnFailure 为 true 时失败不改变任务状态.
func (o *Orchestrator) generatePage(ctx context.Context, provider image.Provider, info taskInfo,
	page types.Page, refs [][]byte, keepOnFailure bool) *Outcome {
	ctx, span := o.tracer.Start(ctx, "generation.page", trace.WithAttributes(
		attribute.String("task.id", info.taskID),
		attribute.Int("page.index", page.Index),
		attribute.String("page.type", string(page.Type)),
		attribute.String("image.provider", provider.Name()),
		attribute.Int("image.references", len(refs)),
	))
	defer span.End()

	out := &Outcome{Index: page.Index, Provider: provider.Name()}
	start := time.Now()
	data, filename, err := o.producePage(ctx, provider, info, page, refs)
	o.recordPage(provider.Name(), err, time.Since(start), len(data))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		out.Err = err
		o.logger.Warn("页面生成失败",
			zap.String("task_id", info.taskID),
			zap.Int("index", page.Index),
			zap.String("code", string(types.GetErrorCode(err))),
			zap.Error(err))
		if !keepOnFailure {
			msg := errorMessage(err)
			if _, uerr := o.store.Update(ctx, info.taskID, func(s *TaskState) error {
				s.MarkFailed(page.Index, msg)
				return nil
			}); uerr != nil {
				o.logger.Error("记录失败页出错", zap.String("task_id", info.taskID), zap.Error(uerr))
			}
		}
		return out
	}

	first := false
	if _, err := o.store.Update(ctx, info.taskID, func(s *TaskState) error {
		s.MarkGenerated(page.Index, filename)
		if page.IsCover() {
			s.CoverImage = filename
		}
		first = !s.ExpiryStarted
		s.ExpiryStarted = true
		return nil
	}); err != nil {
		span.RecordError(err)
		out.Err = err
		return out
	}
	if page.IsCover() {
		o.refs.SetDefault(coverKey(info.taskID), data)
	}
	if first {
		if err := o.history.OnFirstSuccess(ctx, info.userID, info.taskID); err != nil {
			o.logger.Warn("首次成功回调失败", zap.String("task_id", info.taskID), zap.Error(err))
		}
	}

	out.Success = true
	out.Filename = filename
	out.ImageURL = fmt.Sprintf("%s/%s/%s", o.cfg.ImageURLPrefix, info.taskID, filename)
	out.data = data
	o.logger.Info("页面生成成功",
		zap.String("task_id", info.taskID),
		zap.Int("index", page.Index),
		zap.String("filename", filename),
		zap.Int("bytes", len(data)))
	return out
}

func (o *Orchestrator) producePage(ctx context.Context, provider image.Provider, info taskInfo,
	page types.Page, refs [][]byte) ([]byte, string, error) {
	prompt, err := o.prompts.Build(PromptData{
		PageIndex:   page.Index,
		PageType:    page.Type,
		PageContent: page.Content,
		FullOutline: info.fullOutline,
		UserTopic:   info.userTopic,
	})
	if err != nil {
		return nil, "", types.NewError(types.ErrInternalError, "build prompt").WithCause(err)
	}

	data, err := provider.Generate(ctx, &image.GenerateRequest{Prompt: prompt, References: refs})
	if err != nil {
		return nil, "", err
	}

	filename, err := o.images.SaveImage(ctx, info.userID, info.taskID, page.Index, info.keyword, data)
	if err != nil {
		if _, ok := types.AsError(err); !ok {
			err = storageError("save image", err)
		}
		return data, "", err
	}
	return data, filename, nil
}

func (o *Orchestrator) resolveProvider(ctx context.Context, userID string) (image.Provider, error) {
	provider, err := o.resolver.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := provider.Validate(); err != nil {
		return nil, err
	}
	return provider, nil
}

// coverImage 返回任务封面字节，优先读取进程内缓存，未命中时回退到图片存储.
func (o *Orchestrator) coverImage(ctx context.Context, info taskInfo) []byte {
	if v, ok := o.refs.Get(coverKey(info.taskID)); ok {
		o.recordCache("cover", true)
		return v.([]byte)
	}
	o.recordCache("cover", false)

	data, ok, err := o.images.LoadCoverImage(ctx, info.userID, info.taskID, info.coverImage)
	if err != nil {
		o.logger.Warn("加载封面失败", zap.String("task_id", info.taskID), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	o.refs.SetDefault(coverKey(info.taskID), data)
	return data
}

func (o *Orchestrator) userImages(taskID string) [][]byte {
	if v, ok := o.refs.Get(userImagesKey(taskID)); ok {
		o.recordCache("user_images", true)
		return v.([][]byte)
	}
	return nil
}

// =============================================================================
// 辅助函数
// =============================================================================

func coverKey(taskID string) string      { return "cover:" + taskID }
func userImagesKey(taskID string) string { return "user_images:" + taskID }

func infoFromState(s *TaskState) taskInfo {
	return taskInfo{
		taskID:      s.TaskID,
		userID:      s.UserID,
		keyword:     s.Keyword,
		fullOutline: s.FullOutline,
		userTopic:   s.UserTopic,
		coverImage:  s.CoverImage,
	}
}

// splitCover 取出第一张封面页，其余页保持原顺序.
func splitCover(pages []types.Page) (*types.Page, []types.Page) {
	for i, p := range pages {
		if p.IsCover() {
			rest := make([]types.Page, 0, len(pages)-1)
			rest = append(rest, pages[:i]...)
			rest = append(rest, pages[i+1:]...)
			return &p, rest
		}
	}
	return nil, pages
}

func validatePages(pages []types.Page) error {
	if len(pages) == 0 {
		return invalidRequest("pages must not be empty")
	}
	return validatePageSet(pages)
}

func validatePageSet(pages []types.Page) error {
	seen := make(map[int]bool, len(pages))
	for _, p := range pages {
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.Index] {
			return invalidRequest(fmt.Sprintf("duplicate page index %d", p.Index))
		}
		seen[p.Index] = true
	}
	return nil
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := types.AsError(err); ok {
		return e.UserMessage()
	}
	return err.Error()
}

func invalidRequest(msg string) error {
	return types.NewError(types.ErrInvalidRequest, msg).WithHTTPStatus(400)
}

func notFound(taskID string) error {
	return types.NewError(types.ErrNotFound, "task "+taskID+" not found; it may have expired, start a new generation").WithHTTPStatus(404)
}

func boolResult(ok bool) string {
	if ok {
		return "success"
	}
	return "failed"
}

func runResult(d *types.CompleteEventData) string {
	switch {
	case d.Failed == 0:
		return "success"
	case d.Completed == 0:
		return "failed"
	default:
		return "partial"
	}
}

func (o *Orchestrator) startRun() {
	if o.metrics != nil {
		o.metrics.RunStarted()
	}
}

func (o *Orchestrator) finishRun() {
	if o.metrics != nil {
		o.metrics.RunFinished()
	}
}

func (o *Orchestrator) recordRun(kind, result string) {
	if o.metrics != nil {
		o.metrics.RecordGenerationRun(kind, result)
	}
}

func (o *Orchestrator) recordEvent(e types.Event) {
	if o.metrics != nil {
		o.metrics.RecordGenerationEvent(string(e.Type))
	}
}

func (o *Orchestrator) recordPage(provider string, err error, d time.Duration, size int) {
	if o.metrics != nil {
		o.metrics.RecordPageGeneration(provider, string(types.GetErrorCode(err)), d, size)
	}
}

func (o *Orchestrator) recordCache(name string, hit bool) {
	if o.metrics == nil {
		return
	}
	if hit {
		o.metrics.RecordCacheHit(name)
	} else {
		o.metrics.RecordCacheMiss(name)
	}
}
