// Package contenttype resolves the Content-Type and Content-Disposition
// headers for a served file by extension, and builds a disposition value
// that degrades gracefully for older user agents that can't handle an
// RFC 5987 encoded filename.
package contenttype

import (
	"path/filepath"
	"strings"
)

// Disposition selects whether a response should be served inline (for
// viewing in the browser) or as a download (triggering a save dialog).
type Disposition string

const (
	Inline     Disposition = "inline"
	Attachment Disposition = "attachment"
)

// suffixTypes is the fixed extension-to-MIME table, matching
// access-file.c's ftmap[]. It is intentionally not mime.TypeByExtension
// or an OS mime.types file: the set of suffixes served and the exact
// strings returned for them must stay stable across platforms.
var suffixTypes = map[string]string{
	"txt":  "text/plain",
	"doc":  "application/vnd.ms-word",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"ppt":  "application/vnd.ms-powerpoint",
	"pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"xls":  "application/vnd.ms-excel",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"pdf":  "application/pdf",
	"zip":  "application/zip",
	"mp3":  "audio/mp3",
	"mpeg": "video/mpeg",
	"mp4":  "video/mp4",
	"jpg":  "image/jpeg",
	"JPG":  "image/jpeg",
	"jpeg": "image/jpeg",
	"JPEG": "image/jpeg",
	"png":  "image/png",
	"PNG":  "image/png",
	"gif":  "image/gif",
	"GIF":  "image/gif",
	"svg":  "image/svg+xml",
	"SVG":  "image/svg+xml",
}

// ByExtension returns the Content-Type for a filename, falling back to
// application/octet-stream when the extension is unknown. Textual
// types get a "; charset=gbk" suffix, matching the legacy client base
// this table was built for.
func ByExtension(name string) string {
	ext := filepath.Ext(name)
	if ext == "" {
		return "application/octet-stream"
	}
	t, ok := suffixTypes[ext[1:]]
	if !ok {
		return "application/octet-stream"
	}
	if strings.Contains(t, "text") {
		return t + "; charset=gbk"
	}
	return t
}

// NoSniff reports whether the response should carry
// X-Content-Type-Options: nosniff. Image types are excluded: browsers
// have historically mis-rendered thumbnails for some image MIME types
// when the header is present.
func NoSniff(contentType string) bool {
	return !strings.HasPrefix(contentType, "image/")
}

// ContentDisposition builds a Content-Disposition header value for
// filename. Firefox (detected via a case-insensitive substring match on
// User-Agent) gets the RFC 5987 filename* form so non-ASCII names
// survive; every other user agent gets a plain quoted filename=.
func ContentDisposition(disposition Disposition, filename, userAgent string) string {
	var b strings.Builder
	b.WriteString(string(disposition))
	if isLegacyFirefox(userAgent) {
		b.WriteString(`; filename*="utf-8' '`)
		b.WriteString(filename)
		b.WriteString(`"`)
	} else {
		b.WriteString(`; filename="`)
		b.WriteString(filename)
		b.WriteString(`"`)
	}
	return b.String()
}

// isLegacyFirefox reports whether the User-Agent string identifies a
// Firefox browser, case-insensitively.
func isLegacyFirefox(userAgent string) bool {
	return strings.Contains(strings.ToLower(userAgent), "firefox")
}
