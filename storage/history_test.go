package storage

import (
	"context"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/generation"
	"github.com/BaSui01/inkflow/internal/metrics"
	"github.com/BaSui01/inkflow/types"
)

var _ generation.ImageStore = (*ImageStore)(nil)
var _ generation.HistoryHook = (*HistoryService)(nil)

// promauto 注册到默认 registry, 整个包只能创建一次
var testMetrics = metrics.NewCollector("inkflow_storage_test", zap.NewNop())

func newHistory(t *testing.T) (*HistoryService, *ImageStore, *fakeClock) {
	t.Helper()
	pool := newTestPool(t)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	images := NewImageStore(pool.DB(), 0, WithClock(clock.Now))
	svc := NewHistoryService(pool, images, 0,
		WithClock(clock.Now),
		WithLogger(zap.NewNop()),
		WithMetrics(testMetrics),
	)
	return svc, images, clock
}

func TestExtractKeyword(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"春日 野餐攻略!", "春日野餐攻略"},
		{"Top 10 cafés in Paris", "Top10cafés"},
		{"!!!---", "task"},
		{"", "task"},
		{"一二三四五六七八九十十一", "一二三四五六七八九十"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractKeyword(tt.title), tt.title)
	}
}

func TestHistory_CreateAndLookup(t *testing.T) {
	svc, _, _ := newHistory(t)
	ctx := context.Background()

	rec, err := svc.CreateRecord(ctx, CreateRecordRequest{UserID: "u1", TaskID: "t1", Title: " 周末 Brunch ", PageCount: 3})
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, rec.Status)
	assert.Equal(t, "周末Brunch", rec.Keyword)
	assert.Nil(t, rec.ExpiresAt)

	got, err := svc.RecordByTaskID(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	kw, err := svc.Keyword(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, "周末Brunch", kw)

	kw, err = svc.Keyword(ctx, "u1", "missing")
	require.NoError(t, err)
	assert.Empty(t, kw)

	_, err = svc.RecordByTaskID(ctx, "u2", "t1")
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))
}

func TestHistory_CreateRecordValidation(t *testing.T) {
	svc, _, _ := newHistory(t)
	_, err := svc.CreateRecord(context.Background(), CreateRecordRequest{Title: "x"})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
	_, err = svc.CreateRecord(context.Background(), CreateRecordRequest{UserID: "u", Title: "  "})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
}

func TestHistory_StartExpiryOnlyOnce(t *testing.T) {
	svc, _, clock := newHistory(t)
	ctx := context.Background()

	rec, err := svc.CreateRecord(ctx, CreateRecordRequest{UserID: "u1", TaskID: "t1", Title: "deck"})
	require.NoError(t, err)

	require.NoError(t, svc.OnFirstSuccess(ctx, "u1", "t1"))
	first, err := svc.RecordByTaskID(ctx, "u1", "t1")
	require.NoError(t, err)
	require.NotNil(t, first.ExpiresAt)
	assert.True(t, first.ExpiresAt.Equal(clock.Now().Add(DefaultHistoryTTL)))

	clock.Advance(time.Hour)
	require.NoError(t, svc.StartExpiry(ctx, rec.ID))
	again, err := svc.RecordByTaskID(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.True(t, again.ExpiresAt.Equal(*first.ExpiresAt), "expiry is not extended")

	err = svc.StartExpiry(ctx, 9999)
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))

	// 没有记录的任务不是错误
	assert.NoError(t, svc.OnFirstSuccess(ctx, "u1", "no-record"))
}

func TestHistory_SyncTaskImages(t *testing.T) {
	svc, images, _ := newHistory(t)
	ctx := context.Background()

	_, err := svc.CreateRecord(ctx, CreateRecordRequest{UserID: "u1", TaskID: "t1", Title: "deck", PageCount: 3})
	require.NoError(t, err)

	rec, err := svc.SyncTaskImages(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, rec.Status)

	for _, i := range []int{1, 0} {
		_, err := images.SaveImage(ctx, "u1", "t1", i, "deck", pngBytes(t, 4, 4, color.White))
		require.NoError(t, err)
	}
	rec, err = svc.SyncTaskImages(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, rec.Status)
	assert.Equal(t, "deck0.png", rec.Thumbnail)
	assert.Equal(t, []string{"deck0.png", "deck1.png"}, rec.Images())

	_, err = images.SaveImage(ctx, "u1", "t1", 2, "deck", pngBytes(t, 4, 4, color.White))
	require.NoError(t, err)
	_, err = svc.SyncTaskImages(ctx, "u1", "t1")
	require.NoError(t, err)

	stored, err := svc.RecordByTaskID(ctx, "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.Len(t, stored.Images(), 3)
}

func TestHistory_CleanupExpired(t *testing.T) {
	svc, images, clock := newHistory(t)
	ctx := context.Background()

	for _, task := range []string{"old", "fresh", "draft"} {
		_, err := svc.CreateRecord(ctx, CreateRecordRequest{UserID: "u1", TaskID: task, Title: task})
		require.NoError(t, err)
		_, err = images.SaveImage(ctx, "u1", task, 0, "", pngBytes(t, 4, 4, color.White))
		require.NoError(t, err)
	}

	require.NoError(t, svc.OnFirstSuccess(ctx, "u1", "old"))
	clock.Advance(3 * 24 * time.Hour)
	require.NoError(t, svc.OnFirstSuccess(ctx, "u1", "fresh"))

	n, err := svc.CleanupExpired(ctx, clock.Now().Add(5*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = svc.RecordByTaskID(ctx, "u1", "old")
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))
	left, err := images.ListTaskImages(ctx, "u1", "old")
	require.NoError(t, err)
	assert.Empty(t, left)

	for _, task := range []string{"fresh", "draft"} {
		_, err := svc.RecordByTaskID(ctx, "u1", task)
		assert.NoError(t, err, task)
	}
}

func TestHistory_RunCleanupStopsOnCancel(t *testing.T) {
	svc, _, _ := newHistory(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.RunCleanup(ctx, 10*time.Millisecond)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunCleanup did not stop")
	}
}
