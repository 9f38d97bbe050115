package image

import (
	"encoding/base64"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ImageRef 是从文本中定位到的一张图片：要么是待下载的 URL，要么是已解码的字节.
type ImageRef struct {
	URL    string
	Data   []byte
	Source string
}

// Extractor 是一条纯函数式提取规则，按出现顺序返回所有命中.
type Extractor struct {
	Name string
	Find func(doc *Document) []ImageRef
}

// Document 包装待提取的文本，并缓存 markdown 解析结果.
type Document struct {
	Text string

	parsed       bool
	markdownDest []string
}

// NewDocument 创建 Document.
func NewDocument(s string) *Document {
	return &Document{Text: s}
}

var md = goldmark.New()

// MarkdownImages 返回文本中所有 markdown 图片的目标地址.
func (d *Document) MarkdownImages() []string {
	if d.parsed {
		return d.markdownDest
	}
	d.parsed = true
	src := []byte(d.Text)
	root := md.Parser().Parse(text.NewReader(src))
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if img, ok := n.(*ast.Image); ok && entering {
			d.markdownDest = append(d.markdownDest, string(img.Destination))
		}
		return ast.WalkContinue, nil
	})
	return d.markdownDest
}

var (
	httpURLPattern = regexp.MustCompile(`^https?://[^\s)]+$`)
	dataURIPattern = regexp.MustCompile(`^data:image/[^;]+;base64,([^\s)]+)$`)
	bareDataURI    = regexp.MustCompile(`data:image/[^;]+;base64,([A-Za-z0-9+/=]+)`)
	bareImageURL   = regexp.MustCompile(`(?i)(https?://[^\s)"']+\.(png|jpg|jpeg|gif|webp))`)

	// 代码块, 代码片段与 HTML 块里的图片链接 goldmark 不产出 Image 节点
	rawMarkdownURL     = regexp.MustCompile(`!\[.*?\]\((https?://[^\s)]+)\)`)
	rawMarkdownDataURI = regexp.MustCompile(`!\[.*?\]\(data:image/[^;]+;base64,([^\s)]+)\)`)
)

// DefaultExtractors 返回默认的有序提取链：
// markdown URL、markdown data URI、裸 data URI、裸图片 URL.
func DefaultExtractors() []Extractor {
	return []Extractor{
		{Name: "markdown_url", Find: findMarkdownURL},
		{Name: "markdown_data_uri", Find: findMarkdownDataURI},
		{Name: "data_uri", Find: findBareDataURI},
		{Name: "image_url", Find: findBareImageURL},
	}
}

// Extract 依次尝试 extractors，返回第一条命中规则按 sel 选出的图片.
func Extract(s string, sel Selection, extractors []Extractor) (ImageRef, bool) {
	if strings.TrimSpace(s) == "" {
		return ImageRef{}, false
	}
	doc := NewDocument(s)
	for _, ex := range extractors {
		refs := ex.Find(doc)
		if len(refs) == 0 {
			continue
		}
		ref := refs[0]
		if sel == SelectLast {
			ref = refs[len(refs)-1]
		}
		ref.Source = ex.Name
		return ref, true
	}
	return ImageRef{}, false
}

// findMarkdownURL 先走 markdown 解析结果, 一个都没有时再对原文做正则扫描.
func findMarkdownURL(doc *Document) []ImageRef {
	var refs []ImageRef
	for _, dest := range doc.MarkdownImages() {
		if httpURLPattern.MatchString(dest) {
			refs = append(refs, ImageRef{URL: dest})
		}
	}
	if len(refs) > 0 {
		return refs
	}
	for _, m := range rawMarkdownURL.FindAllStringSubmatch(doc.Text, -1) {
		refs = append(refs, ImageRef{URL: m[1]})
	}
	return refs
}

func findMarkdownDataURI(doc *Document) []ImageRef {
	var refs []ImageRef
	for _, dest := range doc.MarkdownImages() {
		m := dataURIPattern.FindStringSubmatch(dest)
		if m == nil {
			continue
		}
		if data, ok := decodeBase64(m[1]); ok {
			refs = append(refs, ImageRef{Data: data})
		}
	}
	if len(refs) > 0 {
		return refs
	}
	for _, m := range rawMarkdownDataURI.FindAllStringSubmatch(doc.Text, -1) {
		if data, ok := decodeBase64(m[1]); ok {
			refs = append(refs, ImageRef{Data: data})
		}
	}
	return refs
}

func findBareDataURI(doc *Document) []ImageRef {
	if !strings.Contains(doc.Text, "data:image") {
		return nil
	}
	var refs []ImageRef
	for _, m := range bareDataURI.FindAllStringSubmatch(doc.Text, -1) {
		if data, ok := decodeBase64(m[1]); ok {
			refs = append(refs, ImageRef{Data: data})
		}
	}
	return refs
}

func findBareImageURL(doc *Document) []ImageRef {
	var refs []ImageRef
	for _, m := range bareImageURL.FindAllStringSubmatch(doc.Text, -1) {
		refs = append(refs, ImageRef{URL: m[1]})
	}
	return refs
}

// decodeBase64 accepts padded and unpadded standard base64.
func decodeBase64(s string) ([]byte, bool) {
	if data, err := base64.StdEncoding.DecodeString(s); err == nil && len(data) > 0 {
		return data, true
	}
	if data, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); err == nil && len(data) > 0 {
		return data, true
	}
	return nil, false
}

// decodeImagePayload decodes a bare base64 string or a data URI.
func decodeImagePayload(s string) ([]byte, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		_, after, found := strings.Cut(s, ",")
		if !found {
			return nil, false
		}
		s = after
	}
	return decodeBase64(s)
}
