package image

import (
	"net/http"
	"unicode/utf8"

	"github.com/BaSui01/inkflow/types"
)

const (
	errorSnippetLen      = 500
	extractionSnippetLen = 800
)

// snippet truncates s to at most n runes.
func snippet(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// classifyStatus maps a non-2xx provider response to a classified error.
func classifyStatus(provider string, status int, body []byte) *types.Error {
	detail := snippet(string(body), errorSnippetLen)
	switch status {
	case http.StatusUnauthorized:
		return types.NewAuthError(provider, detail)
	case http.StatusTooManyRequests:
		return types.NewRateLimitError(provider, detail)
	default:
		return types.NewHTTPError(provider, status, detail)
	}
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
