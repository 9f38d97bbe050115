package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/nfnt/resize"
)

// DefaultThumbnailSide bounds both edges of stored thumbnails.
const DefaultThumbnailSide = 480

// Thumbnail renders a JPEG preview whose long edge is at most maxSide.
func Thumbnail(data []byte, maxSide int) ([]byte, error) {
	if maxSide <= 0 {
		maxSide = DefaultThumbnailSide
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	img := resize.Thumbnail(uint(maxSide), uint(maxSide), flatten(src), resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
