package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var pong = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	_, _ = io.WriteString(w, "pong")
})

func startLocal(t *testing.T, name string) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = 2 * time.Second
	m := NewManager(name, pong, cfg, zap.NewNop())
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, Config{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    10 * time.Minute,
		IdleTimeout:     2 * time.Minute,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 30 * time.Second,
	}, cfg)
	assert.False(t, cfg.TLSEnabled())
}

func TestConfig_TLSEnabled(t *testing.T) {
	tests := []struct {
		cert, key string
		want      bool
	}{
		{"", "", false},
		{"c.pem", "", false},
		{"", "k.pem", false},
		{"c.pem", "k.pem", true},
	}
	for _, tt := range tests {
		cfg := Config{TLSCertFile: tt.cert, TLSKeyFile: tt.key}
		assert.Equal(t, tt.want, cfg.TLSEnabled(), "%+v", tt)
	}
}

func TestNewManager_TLSConfig(t *testing.T) {
	plain := NewManager("api", pong, DefaultConfig(), nil)
	assert.Nil(t, plain.srv.TLSConfig)
	assert.Equal(t, ":8080", plain.Addr())
	assert.True(t, plain.IsRunning())

	cfg := DefaultConfig()
	cfg.TLSCertFile, cfg.TLSKeyFile = "cert.pem", "key.pem"
	secure := NewManager("api", pong, cfg, nil)
	require.NotNil(t, secure.srv.TLSConfig)
	assert.NotEmpty(t, secure.srv.TLSConfig.CipherSuites)
}

func TestManager_Lifecycle(t *testing.T) {
	m := startLocal(t, "api")
	assert.NotEqual(t, "127.0.0.1:0", m.Addr())

	resp, err := http.Get("http://" + m.Addr() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pong", string(body))

	err = m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())

	err = m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestManager_PortInUse(t *testing.T) {
	first := startLocal(t, "a")

	cfg := DefaultConfig()
	cfg.Addr = first.Addr()
	err := NewManager("b", pong, cfg, zap.NewNop()).Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}

func TestManager_WaitForShutdown(t *testing.T) {
	t.Run("context cancelled", func(t *testing.T) {
		m := startLocal(t, "api")
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			m.WaitForShutdown(ctx)
			close(done)
		}()
		cancel()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("WaitForShutdown did not return")
		}
		assert.False(t, m.IsRunning())
	})

	t.Run("serve error", func(t *testing.T) {
		m := startLocal(t, "api")
		m.errs <- errors.New("accept: boom")
		done := make(chan struct{})
		go func() {
			m.WaitForShutdown(context.Background())
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("WaitForShutdown ignored serve error")
		}
		assert.False(t, m.IsRunning())
	})
}

func TestManager_ErrorsEmptyWhileHealthy(t *testing.T) {
	m := startLocal(t, "api")
	select {
	case err := <-m.Errors():
		t.Fatalf("unexpected serve error: %v", err)
	default:
	}
}
