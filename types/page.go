package types

import "fmt"

// PageType classifies a page of generated content.
type PageType string

const (
	PageCover   PageType = "cover"
	PageContent PageType = "content"
	PageSummary PageType = "summary"
)

// Page is one unit of content that becomes one image.
type Page struct {
	Index   int      `json:"index"`
	Type    PageType `json:"type"`
	Content string   `json:"content"`
}

// IsCover reports whether the page drives the style of the rest of the task.
func (p Page) IsCover() bool {
	return p.Type == PageCover || (p.Type == "" && p.Index == 0)
}

// Validate checks index and type.
func (p Page) Validate() error {
	if p.Index < 0 {
		return NewError(ErrInvalidRequest, fmt.Sprintf("page index must be >= 0, got %d", p.Index)).WithHTTPStatus(400)
	}
	switch p.Type {
	case PageCover, PageContent, PageSummary, "":
		return nil
	default:
		return NewError(ErrInvalidRequest, fmt.Sprintf("unknown page type %q", p.Type)).WithHTTPStatus(400)
	}
}
