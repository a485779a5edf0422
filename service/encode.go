package service

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"

	"github.com/chai2010/webp"

	"github.com/sidharthmenon/withoutbg-api/model"
)

// EncodeImage 按输出规格编码图片，要么完整成功要么报错
func EncodeImage(img image.Image, spec model.OutputSpec) ([]byte, error) {
	var buf bytes.Buffer

	switch spec.Normalized() {
	case model.FormatJPEG:
		// JPEG不支持alpha，先以alpha为蒙版合成到白底
		if err := jpeg.Encode(&buf, flattenOnWhite(img), &jpeg.Options{Quality: clampQuality(spec.Quality)}); err != nil {
			return nil, fmt.Errorf("failed to encode jpeg: %w", err)
		}
	case model.FormatWEBP:
		if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(clampQuality(spec.Quality))}); err != nil {
			return nil, fmt.Errorf("failed to encode webp: %w", err)
		}
	default:
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("failed to encode png: %w", err)
		}
	}

	return buf.Bytes(), nil
}

func flattenOnWhite(img image.Image) image.Image {
	if op, ok := img.(interface{ Opaque() bool }); ok && op.Opaque() {
		return img
	}

	bounds := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(out, out.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(out, out.Bounds(), img, bounds.Min, draw.Over)
	return out
}

func clampQuality(q int) int {
	if q < 1 {
		return model.DefaultQuality
	}
	if q > 100 {
		return 100
	}
	return q
}
