package storage

import (
	"context"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/inkflow/types"
)

func TestImageFilename(t *testing.T) {
	assert.Equal(t, "0.png", ImageFilename("", 0))
	assert.Equal(t, "春游3.png", ImageFilename("春游", 3))
}

func TestImageStore_SaveAndGet(t *testing.T) {
	pool := newTestPool(t)
	store := NewImageStore(pool.DB(), 32)
	ctx := context.Background()
	data := pngBytes(t, 200, 100, color.RGBA{R: 200, A: 255})

	name, err := store.SaveImage(ctx, "u1", "task-1", 2, "trip", data)
	require.NoError(t, err)
	assert.Equal(t, "trip2.png", name)

	full, err := store.GetImage(ctx, "u1", "task-1", name, false)
	require.NoError(t, err)
	assert.Equal(t, data, full)

	thumb, err := store.GetImage(ctx, "u1", "task-1", name, true)
	require.NoError(t, err)
	assert.NotEqual(t, data, thumb)
	assert.Equal(t, []byte{0xFF, 0xD8}, thumb[:2], "thumbnail is jpeg")

	// 其他用户看不到
	_, err = store.GetImage(ctx, "u2", "task-1", name, false)
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))
}

func TestImageStore_SaveReplaces(t *testing.T) {
	pool := newTestPool(t)
	store := NewImageStore(pool.DB(), 0)
	ctx := context.Background()

	first := pngBytes(t, 10, 10, color.White)
	second := pngBytes(t, 12, 12, color.Black)
	_, err := store.SaveImage(ctx, "u1", "t", 1, "", first)
	require.NoError(t, err)
	_, err = store.SaveImage(ctx, "u1", "t", 1, "", second)
	require.NoError(t, err)

	got, err := store.GetImage(ctx, "u1", "t", "1.png", false)
	require.NoError(t, err)
	assert.Equal(t, second, got)

	list, err := store.ListTaskImages(ctx, "u1", "t")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestImageStore_UndecodableStillSaved(t *testing.T) {
	pool := newTestPool(t)
	store := NewImageStore(pool.DB(), 0)
	ctx := context.Background()

	raw := []byte("not really an image")
	_, err := store.SaveImage(ctx, "u1", "t", 0, "", raw)
	require.NoError(t, err)

	// 没有缩略图时回退原图
	got, err := store.GetImage(ctx, "u1", "t", "0.png", true)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = store.SaveImage(ctx, "u1", "t", 1, "", nil)
	assert.Error(t, err)
}

func TestImageStore_LoadCoverImage(t *testing.T) {
	pool := newTestPool(t)
	store := NewImageStore(pool.DB(), 0)
	ctx := context.Background()

	_, ok, err := store.LoadCoverImage(ctx, "u1", "t", "")
	require.NoError(t, err)
	assert.False(t, ok)

	cover := pngBytes(t, 8, 8, color.White)
	_, err = store.SaveImage(ctx, "u1", "t", 0, "kw", cover)
	require.NoError(t, err)
	_, err = store.SaveImage(ctx, "u1", "t", 1, "kw", pngBytes(t, 8, 8, color.Black))
	require.NoError(t, err)

	got, ok, err := store.LoadCoverImage(ctx, "u1", "t", "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cover, got)

	// 不限定用户
	_, ok, err = store.LoadCoverImage(ctx, "", "t", "")
	require.NoError(t, err)
	assert.True(t, ok)

	// 状态里记录的封面不在索引 0
	got, ok, err = store.LoadCoverImage(ctx, "u1", "t", ImageFilename("kw", 1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, pngBytes(t, 8, 8, color.Black), got)

	_, ok, err = store.LoadCoverImage(ctx, "u1", "t", ImageFilename("kw", 7))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestImageStore_ListAndDelete(t *testing.T) {
	pool := newTestPool(t)
	store := NewImageStore(pool.DB(), 0)
	ctx := context.Background()

	for _, i := range []int{3, 0, 1} {
		_, err := store.SaveImage(ctx, "u1", "t", i, "", pngBytes(t, 4, 4, color.White))
		require.NoError(t, err)
	}

	list, err := store.ListTaskImages(ctx, "u1", "t")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []int{0, 1, 3}, []int{list[0].Idx, list[1].Idx, list[2].Idx})
	assert.Empty(t, list[0].ImageData, "metadata only")

	n, err := store.DeleteTaskImages(ctx, "u1", "t")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
