package image

import (
	"bufio"
	"bytes"
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

var errInvalidJSON = errors.New("response is not valid JSON")

// IsEventStream 通过 Content-Type 或正文前缀判断是否为 SSE 流式响应.
func IsEventStream(contentType string, body []byte) bool {
	return strings.Contains(contentType, "text/event-stream") ||
		bytes.HasPrefix(bytes.TrimLeft(body, " \t\r\n"), []byte("data:"))
}

// AccumulateText 把流式或非流式的 chat completion 正文归一化为一段文本.
// 流式分片中无法解析的 JSON 会被跳过；非流式正文无法解析时返回错误.
func AccumulateText(contentType string, body []byte) (string, error) {
	if IsEventStream(contentType, body) {
		return accumulateStream(body), nil
	}
	if !gjson.ValidBytes(body) {
		return "", errInvalidJSON
	}
	choice := gjson.GetBytes(body, "choices.0")
	if msg := choice.Get("message.content"); msg.Exists() {
		return msg.String(), nil
	}
	return choice.Get("delta.content").String(), nil
}

// initialLineBuf 初始行缓冲. 单行上限放宽到整个正文,
// 内联 base64 图片的 delta 往往远超 bufio 默认的 64KiB.
const initialLineBuf = 64 * 1024

func accumulateStream(body []byte) string {
	var b strings.Builder
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, min(initialLineBuf, len(body)+1)), len(body)+1)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, ":") || strings.HasPrefix(line, "event:") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(line[len("data:"):])
		if data == "[DONE]" || !gjson.Valid(data) {
			continue
		}
		b.WriteString(gjson.Get(data, "choices.0.delta.content").String())
	}
	return b.String()
}
