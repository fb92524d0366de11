package extractor

import (
	"mime"
	"sort"
	"strings"
)

// Format 是支持的源文件格式的封闭集合，未知类型统一归入 FormatUnsupported。
type Format int

const (
	FormatUnsupported Format = iota
	FormatPDF
	FormatWord
	FormatLegacyWord
	FormatPresentation
	FormatSpreadsheet
	FormatImage
	FormatText
)

var formatNames = map[Format]string{
	FormatUnsupported:  "unsupported",
	FormatPDF:          "pdf",
	FormatWord:         "word",
	FormatLegacyWord:   "legacy_word",
	FormatPresentation: "presentation",
	FormatSpreadsheet:  "spreadsheet",
	FormatImage:        "image",
	FormatText:         "text",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return "unsupported"
}

var formatsByMime = map[string]Format{
	"application/pdf": FormatPDF,

	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": FormatWord,
	"application/msword": FormatLegacyWord,

	"application/vnd.openxmlformats-officedocument.presentationml.presentation": FormatPresentation,

	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": FormatSpreadsheet,

	"image/png":  FormatImage,
	"image/jpeg": FormatImage,
	"image/jpg":  FormatImage,
	"image/gif":  FormatImage,
	"image/bmp":  FormatImage,
	"image/webp": FormatImage,
	"image/tiff": FormatImage,

	"text/plain":       FormatText,
	"text/csv":         FormatText,
	"text/markdown":    FormatText,
	"text/x-markdown":  FormatText,
	"application/json": FormatText,
	"text/html":        FormatText,
	"application/xml":  FormatText,
	"text/xml":         FormatText,
}

// FormatOf 把声明的 MIME 类型映射到 Format，忽略大小写和参数（如 charset）。
func FormatOf(mimeType string) Format {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(mimeType))
	}
	if f, ok := formatsByMime[mediaType]; ok {
		return f
	}
	return FormatUnsupported
}

// Supported 报告 MIME 类型是否可以被抽取。
func Supported(mimeType string) bool {
	return FormatOf(mimeType) != FormatUnsupported
}

// BaseMediaType 返回去掉参数后的小写 MIME 类型。
func BaseMediaType(mimeType string) string {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(mimeType))
	}
	return mediaType
}

// SupportedMimeTypes 按格式分组返回全部支持的 MIME 类型，组内按字母排序。
func SupportedMimeTypes() map[string][]string {
	out := make(map[string][]string)
	for m, f := range formatsByMime {
		out[f.String()] = append(out[f.String()], m)
	}
	for _, list := range out {
		sort.Strings(list)
	}
	return out
}
