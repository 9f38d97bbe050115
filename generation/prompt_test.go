package generation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/inkflow/types"
)

func TestTemplatePromptBuilder_Build(t *testing.T) {
	b, err := NewTemplatePromptBuilder()
	require.NoError(t, err)

	tests := []struct {
		name     string
		data     PromptData
		contains []string
		absent   []string
	}{
		{
			name:     "cover",
			data:     PromptData{PageIndex: 0, PageType: types.PageCover, PageContent: "春日穿搭"},
			contains: []string{"封面", "春日穿搭"},
			absent:   []string{"用户原始需求", "完整大纲"},
		},
		{
			name:     "content with context",
			data:     PromptData{PageIndex: 2, PageType: types.PageContent, PageContent: "第二步", UserTopic: "穿搭", FullOutline: "大纲"},
			contains: []string{"第 2 页", "第二步", "用户原始需求：穿搭", "大纲"},
		},
		{
			name:     "summary",
			data:     PromptData{PageIndex: 5, PageType: types.PageSummary, PageContent: "总结"},
			contains: []string{"总结页"},
		},
		{
			name:     "untyped first page is cover",
			data:     PromptData{PageIndex: 0, PageContent: "x"},
			contains: []string{"封面"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := b.Build(tt.data)
			require.NoError(t, err)
			for _, s := range tt.contains {
				assert.Contains(t, got, s)
			}
			for _, s := range tt.absent {
				assert.NotContains(t, got, s)
			}
		})
	}
}

func TestLoadTemplatePromptBuilder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.tmpl")
	require.NoError(t, os.WriteFile(path, []byte("{{.PageIndex}}|{{.PageContent}}"), 0o644))

	b, err := LoadTemplatePromptBuilder(path)
	require.NoError(t, err)
	got, err := b.Build(PromptData{PageIndex: 3, PageContent: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "3|hello", got)

	_, err = LoadTemplatePromptBuilder(filepath.Join(dir, "missing.tmpl"))
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.tmpl")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o644))
	_, err = LoadTemplatePromptBuilder(empty)
	assert.Error(t, err)

	b, err = LoadTemplatePromptBuilder("")
	require.NoError(t, err)
	assert.NotNil(t, b)
}

func TestTemplatePromptBuilder_UnknownField(t *testing.T) {
	b, err := parsePromptTemplate("{{.Missing}}")
	require.NoError(t, err)
	_, err = b.Build(PromptData{})
	assert.Error(t, err)
}
