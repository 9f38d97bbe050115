package image

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/inkflow/types"
)

type stubDownloader struct {
	urls []string
	data []byte
	err  error
}

func (s *stubDownloader) Download(_ context.Context, url string) ([]byte, error) {
	s.urls = append(s.urls, url)
	return s.data, s.err
}

func TestChatProvider_Generate_StreamedMarkdownURL(t *testing.T) {
	body := "data: {\"choices\":[{\"delta\":{\"content\":\"![img](https://cdn.example.com/\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"a.png)\"}}]}\n\n" +
		"data: [DONE]\n\n"
	srv, captured := fakeProvider(t, 200, "text/event-stream", body)
	dl := &stubDownloader{data: []byte("IMG")}
	p := newTestProvider(t, srv.URL, "chat", WithDownloader(dl))

	got, err := p.Generate(context.Background(), &GenerateRequest{Prompt: "draw"})
	require.NoError(t, err)
	assert.Equal(t, []byte("IMG"), got)
	assert.Equal(t, []string{"https://cdn.example.com/a.png"}, dl.urls)

	assert.Equal(t, "/v1/chat/completions", captured.path)
	assert.Equal(t, "img-model", captured.parsed.Get("model").String())
	assert.Equal(t, int64(4096), captured.parsed.Get("max_tokens").Int())
	assert.Equal(t, 1.0, captured.parsed.Get("temperature").Float())
	assert.False(t, captured.parsed.Get("stream").Exists())
	assert.Equal(t, "user", captured.parsed.Get("messages.0.role").String())
	assert.Equal(t, "draw", captured.parsed.Get("messages.0.content").String())
}

func TestChatProvider_Generate_NonStreamDataURI(t *testing.T) {
	want := tinyPNG(t)
	body := fmt.Sprintf(`{"choices":[{"message":{"content":"![x](data:image/png;base64,%s)"}}]}`, b64(want))
	srv, _ := fakeProvider(t, 200, "application/json", body)
	dl := &stubDownloader{}
	p := newTestProvider(t, srv.URL, "chat", WithDownloader(dl))

	got, err := p.Generate(context.Background(), &GenerateRequest{Prompt: "draw"})
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Empty(t, dl.urls)
}

func TestChatProvider_Generate_MultipartReferences(t *testing.T) {
	ref := tinyPNG(t)
	srv, captured := fakeProvider(t, 200, "application/json",
		`{"choices":[{"message":{"content":"https://cdn.example.com/out.webp"}}]}`)
	p := newTestProvider(t, srv.URL, "chat", WithDownloader(&stubDownloader{data: []byte("IMG")}))

	_, err := p.Generate(context.Background(), &GenerateRequest{Prompt: "draw", References: [][]byte{ref}})
	require.NoError(t, err)

	parts := captured.parsed.Get("messages.0.content").Array()
	require.Len(t, parts, 2)
	assert.Equal(t, "text", parts[0].Get("type").String())
	assert.Equal(t, "draw", parts[0].Get("text").String())
	assert.Equal(t, "image_url", parts[1].Get("type").String())
	assert.Equal(t, "data:image/png;base64,"+b64(ref), parts[1].Get("image_url.url").String())
}

func TestChatProvider_Generate_Errors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		wantCode    types.ErrorCode
	}{
		{"auth", 401, "application/json", `{"error":"invalid key"}`, types.ErrAuth},
		{"rate limit", 429, "application/json", `{"error":"quota"}`, types.ErrRateLimited},
		{"http", 503, "text/plain", "overloaded", types.ErrHTTP},
		{"parse", 200, "application/json", "not json at all", types.ErrParse},
		{"no image", 200, "application/json", `{"choices":[{"message":{"content":"I can't draw that"}}]}`, types.ErrExtraction},
		{"empty stream", 200, "text/event-stream", "data: [DONE]\n", types.ErrExtraction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := fakeProvider(t, tt.status, tt.contentType, tt.body)
			p := newTestProvider(t, srv.URL, "chat", WithDownloader(&stubDownloader{}))

			_, err := p.Generate(context.Background(), &GenerateRequest{Prompt: "draw"})
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, types.GetErrorCode(err))
		})
	}
}

func TestChatProvider_Generate_ExtractionSnippetTruncated(t *testing.T) {
	text := strings.Repeat("no image here ", 200)
	srv, _ := fakeProvider(t, 200, "application/json", fmt.Sprintf(`{"choices":[{"message":{"content":%q}}]}`, text))
	p := newTestProvider(t, srv.URL, "chat")

	_, err := p.Generate(context.Background(), &GenerateRequest{Prompt: "draw"})
	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, types.ErrExtraction, e.Code)
	assert.Equal(t, extractionSnippetLen, len([]rune(e.Detail)))
}

func TestChatProvider_Generate_EmptyResponseDetail(t *testing.T) {
	srv, _ := fakeProvider(t, 200, "text/event-stream", "data: [DONE]\n")
	p := newTestProvider(t, srv.URL, "chat")

	_, err := p.Generate(context.Background(), &GenerateRequest{Prompt: "draw"})
	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, "(empty response)", e.Detail)
}

func TestChatProvider_Generate_DownloadFailure(t *testing.T) {
	srv, _ := fakeProvider(t, 200, "application/json",
		`{"choices":[{"message":{"content":"![a](https://cdn.example.com/a.png)"}}]}`)
	p := newTestProvider(t, srv.URL, "chat", WithDownloader(&stubDownloader{err: errors.New("HTTP 404")}))

	_, err := p.Generate(context.Background(), &GenerateRequest{Prompt: "draw"})
	assert.True(t, types.IsErrorCode(err, types.ErrDownload))
}

func TestChatProvider_Generate_RealDownloader(t *testing.T) {
	img := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/a.png" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("PNGDATA"))
	}))
	defer img.Close()

	srv, _ := fakeProvider(t, 200, "application/json",
		fmt.Sprintf(`{"choices":[{"message":{"content":"![a](%s/a.png)"}}]}`, img.URL))
	p := newTestProvider(t, srv.URL, "chat")

	got, err := p.Generate(context.Background(), &GenerateRequest{Prompt: "draw"})
	require.NoError(t, err)
	assert.Equal(t, []byte("PNGDATA"), got)
}
