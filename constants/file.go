package constants

import "strings"

// MaxImageBytes is the default ceiling for a submitted essay image.
const MaxImageBytes = 5 << 20

// AllowedImageTypes maps accepted MIME types to the extension used for object keys.
var AllowedImageTypes = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/gif":  "gif",
	"image/webp": "webp",
	"image/bmp":  "bmp",
	"image/tiff": "tiff",
}

// NormalizeMime lowercases a content type and strips parameters ("; charset=...").
func NormalizeMime(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if mime == "image/jpg" {
		return "image/jpeg"
	}
	return mime
}

// ExtForMime returns the object key extension for an allowed MIME type.
func ExtForMime(mime string) (string, bool) {
	ext, ok := AllowedImageTypes[NormalizeMime(mime)]
	return ext, ok
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// MimeForExt is the reverse of ExtForMime, used for multipart uploads without a content type.
func MimeForExt(ext string) (string, bool) {
	switch NormalizeExt(ext) {
	case "png":
		return "image/png", true
	case "jpg", "jpeg":
		return "image/jpeg", true
	case "gif":
		return "image/gif", true
	case "webp":
		return "image/webp", true
	case "bmp":
		return "image/bmp", true
	case "tif", "tiff":
		return "image/tiff", true
	}
	return "", false
}
