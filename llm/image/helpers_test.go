package image

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// tinyPNG returns a valid 2x2 PNG.
func tinyPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{255, 0, 0, 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type capturedRequest struct {
	path   string
	auth   string
	body   []byte
	parsed gjson.Result
}

// fakeProvider serves status/contentType/body and records the last request.
func fakeProvider(t *testing.T, status int, contentType, body string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		captured.path = r.URL.Path
		captured.auth = r.Header.Get("Authorization")
		captured.body = data
		captured.parsed = gjson.ParseBytes(data)
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func newTestProvider(t *testing.T, baseURL, endpoint string, opts ...Option) Provider {
	t.Helper()
	cfg := Config{
		Name:         "test",
		APIKey:       "sk-test",
		BaseURL:      baseURL,
		Model:        "img-model",
		EndpointType: endpoint,
	}
	opts = append([]Option{WithLogger(zap.NewNop()), WithHTTPClient(http.DefaultClient)}, opts...)
	p, err := NewProvider(cfg, opts...)
	require.NoError(t, err)
	return p
}

func b64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
