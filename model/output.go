package model

import "strings"

// 输出格式，未识别的值统一回退到PNG
const (
	FormatPNG  = "png"
	FormatJPG  = "jpg"
	FormatJPEG = "jpeg"
	FormatWEBP = "webp"

	DefaultFormat  = FormatPNG
	DefaultQuality = 95
)

// OutputSpec 请求方指定的输出格式与质量
type OutputSpec struct {
	Format  string
	Quality int
}

// Normalized 返回规范化后的格式名，大小写不敏感
func (s OutputSpec) Normalized() string {
	switch strings.ToLower(s.Format) {
	case FormatJPG, FormatJPEG:
		return FormatJPEG
	case FormatWEBP:
		return FormatWEBP
	default:
		return FormatPNG
	}
}

// MediaType 返回输出对应的Content-Type
func (s OutputSpec) MediaType() string {
	switch s.Normalized() {
	case FormatJPEG:
		return "image/jpeg"
	case FormatWEBP:
		return "image/webp"
	default:
		return "image/png"
	}
}

// Extension 返回输出文件扩展名，用于Content-Disposition
func (s OutputSpec) Extension() string {
	switch strings.ToLower(s.Format) {
	case FormatJPG:
		return FormatJPG
	case FormatJPEG:
		return FormatJPEG
	case FormatWEBP:
		return FormatWEBP
	default:
		return FormatPNG
	}
}
