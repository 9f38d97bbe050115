package generation

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/BaSui01/inkflow/types"
)

//go:embed prompts/page.tmpl
var defaultPageTemplate string

// PromptData 是页面提示词模板的输入.
type PromptData struct {
	PageIndex   int
	PageType    types.PageType
	PageContent string
	FullOutline string
	UserTopic   string
}

// PromptBuilder 把页面渲染为提供者提示词.
type PromptBuilder interface {
	Build(data PromptData) (string, error)
}

// TemplatePromptBuilder 基于 text/template 渲染提示词.
type TemplatePromptBuilder struct {
	tmpl *template.Template
}

// NewTemplatePromptBuilder 解析内置模板.
func NewTemplatePromptBuilder() (*TemplatePromptBuilder, error) {
	return parsePromptTemplate(defaultPageTemplate)
}

// LoadTemplatePromptBuilder 从文件加载模板；path 为空时使用内置模板.
func LoadTemplatePromptBuilder(path string) (*TemplatePromptBuilder, error) {
	if path == "" {
		return NewTemplatePromptBuilder()
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt template %s: %w", path, err)
	}
	return parsePromptTemplate(string(content))
}

func parsePromptTemplate(content string) (*TemplatePromptBuilder, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("prompt template is empty")
	}
	tmpl, err := template.New("page").Option("missingkey=error").Parse(content)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	return &TemplatePromptBuilder{tmpl: tmpl}, nil
}

// Build 实现 PromptBuilder.
func (b *TemplatePromptBuilder) Build(data PromptData) (string, error) {
	if data.PageType == "" {
		data.PageType = types.PageContent
		if data.PageIndex == 0 {
			data.PageType = types.PageCover
		}
	}
	var sb strings.Builder
	if err := b.tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("execute prompt template: %w", err)
	}
	return strings.TrimSpace(sb.String()), nil
}
