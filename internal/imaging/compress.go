// Package imaging shrinks reference images to a byte budget and renders thumbnails.
package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp"
)

// MinLongSide is the smallest long edge the compressor will scale down to.
const MinLongSide = 256

// QualityFloor is the lowest JPEG quality the compressor tries.
const QualityFloor = 40

var (
	scaleSteps   = []float64{1.0, 0.75, 0.5, 0.35, 0.25}
	qualitySteps = []int{85, 70, 55, QualityFloor}
)

// Compress re-encodes data as JPEG until it fits in maxSizeKB.
//
// Inputs already within budget, and inputs that cannot be decoded, are returned
// unchanged. Otherwise the first candidate under budget is returned, or the
// smallest candidate once the ladder is exhausted. The result is never larger
// than data. Compress is deterministic.
func Compress(data []byte, maxSizeKB int) []byte {
	budget := maxSizeKB * 1024
	if maxSizeKB <= 0 || len(data) <= budget {
		return data
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data
	}
	flat := flatten(src)
	bounds := flat.Bounds()
	longSide := max(bounds.Dx(), bounds.Dy())

	best := data
	var buf bytes.Buffer
	for i, scale := range scaleSteps {
		if i > 0 && float64(longSide)*scale < MinLongSide {
			break
		}
		img := flat
		if scale < 1 {
			img = resize.Resize(uint(float64(bounds.Dx())*scale), uint(float64(bounds.Dy())*scale), flat, resize.Lanczos3)
		}
		for _, q := range qualitySteps {
			buf.Reset()
			if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
				continue
			}
			if buf.Len() < len(best) {
				best = bytes.Clone(buf.Bytes())
			}
			if buf.Len() <= budget {
				return best
			}
		}
	}
	return best
}

// flatten composes src over an opaque white background.
func flatten(src image.Image) image.Image {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}
