package storage

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/config"
	"github.com/BaSui01/inkflow/internal/database"
	"github.com/BaSui01/inkflow/internal/migration"
)

// newTestPool 在临时 sqlite 文件上执行真实迁移脚本, 保证模型与 schema 一致.
func newTestPool(t *testing.T) *database.PoolManager {
	t.Helper()
	dbCfg := config.DatabaseConfig{Driver: "sqlite", Name: filepath.Join(t.TempDir(), "storage.db")}

	m, err := migration.NewMigratorFromDatabaseConfig(dbCfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, m.Up(context.Background()))
	require.NoError(t, m.Close())

	db, err := database.Open(dbCfg, zap.NewNop())
	require.NoError(t, err)
	pool, err := database.NewPoolManager(db, database.PoolConfigFromDatabase(dbCfg), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }
