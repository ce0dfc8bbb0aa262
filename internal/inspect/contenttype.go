package inspect

import (
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const defaultContentType = "application/octet-stream"

// mediaTypes extends the platform MIME table with audio, video and image
// formats that are often missing from it.
var mediaTypes = map[string]string{
	".aac":  "audio/aac",
	".aiff": "audio/aiff",
	".avi":  "video/x-msvideo",
	".avif": "image/avif",
	".flac": "audio/flac",
	".heic": "image/heic",
	".heif": "image/heif",
	".m4a":  "audio/mp4",
	".m4v":  "video/x-m4v",
	".mkv":  "video/x-matroska",
	".mov":  "video/quicktime",
	".mp3":  "audio/mpeg",
	".mp4":  "video/mp4",
	".mpeg": "video/mpeg",
	".mpg":  "video/mpeg",
	".oga":  "audio/ogg",
	".ogg":  "audio/ogg",
	".ogv":  "video/ogg",
	".opus": "audio/ogg",
	".wav":  "audio/wav",
	".weba": "audio/webm",
	".webm": "video/webm",
	".webp": "image/webp",
	".wma":  "audio/x-ms-wma",
	".wmv":  "video/x-ms-wmv",
}

func init() {
	for ext, ct := range mediaTypes {
		_ = mime.AddExtensionType(ext, ct)
	}
}

// ContentType returns the content type of a file named name. The extension
// table is consulted first; when it has no answer and r is not nil the
// content signature read from r decides.
func ContentType(name string, r io.Reader) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	if r != nil {
		if m, err := mimetype.DetectReader(r); err == nil {
			return m.String()
		}
	}
	return defaultContentType
}

// MediaType strips parameters such as charset from a content type.
func MediaType(ct string) string {
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	return ct
}

// IsPlayable reports whether ct is an audio or video type.
func IsPlayable(ct string) bool {
	mt := MediaType(ct)
	return strings.HasPrefix(mt, "audio/") || strings.HasPrefix(mt, "video/")
}

// IsImage reports whether ct is an image type.
func IsImage(ct string) bool {
	return strings.HasPrefix(MediaType(ct), "image/")
}

// IsStreamable reports whether ct may be served inline by the media
// streaming endpoint.
func IsStreamable(ct string) bool {
	return IsPlayable(ct) || IsImage(ct)
}
