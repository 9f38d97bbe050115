package image

import (
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulateText(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        string
		wantErr     bool
	}{
		{
			name:        "stream by content type",
			contentType: "text/event-stream; charset=utf-8",
			body:        "data: {\"choices\":[{\"delta\":{\"content\":\"A\"}}]}\n\ndata: {\"choices\":[{\"delta\":{\"content\":\"B\"}}]}\n\ndata: [DONE]\n",
			want:        "AB",
		},
		{
			name: "stream by prefix sniffing",
			body: "data: {\"choices\":[{\"delta\":{\"content\":\"A\"}}]}\ndata: {\"choices\":[{\"delta\":{\"content\":\"B\"}}]}\ndata: [DONE]",
			want: "AB",
		},
		{
			name:        "stream skips comments events and malformed chunks",
			contentType: "text/event-stream",
			body:        ": keepalive\nevent: message\ndata: {not json}\ndata: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n\ndata: {\"choices\":[]}\n",
			want:        "ok",
		},
		{
			name:        "non stream message content",
			contentType: "application/json",
			body:        `{"choices":[{"message":{"role":"assistant","content":"hello"}}]}`,
			want:        "hello",
		},
		{
			name:        "non stream delta fallback",
			contentType: "application/json",
			body:        `{"choices":[{"delta":{"content":"partial"}}]}`,
			want:        "partial",
		},
		{
			name:        "non stream without choices",
			contentType: "application/json",
			body:        `{"id":"x"}`,
			want:        "",
		},
		{
			name:        "non stream invalid json",
			contentType: "application/json",
			body:        "upstream exploded",
			wantErr:     true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AccumulateText(tt.contentType, []byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAccumulateText_LongDataLine(t *testing.T) {
	big := strings.Repeat("Q", 200*1024)
	body := fmt.Sprintf("data: {\"choices\":[{\"delta\":{\"content\":\"%s\"}}]}\ndata: {\"choices\":[{\"delta\":{\"content\":\"!\"}}]}\ndata: [DONE]\n", big)

	got, err := AccumulateText("text/event-stream", []byte(body))
	require.NoError(t, err)
	assert.Equal(t, big+"!", got)
}

func TestProperty_AccumulateText_ConcatenatesDeltas(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("stream text equals concatenated deltas", prop.ForAll(
		func(parts []string) bool {
			var body strings.Builder
			for _, p := range parts {
				fmt.Fprintf(&body, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", p)
			}
			body.WriteString("data: [DONE]\n")

			got, err := AccumulateText("text/event-stream", []byte(body.String()))
			return err == nil && got == strings.Join(parts, "")
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
