package document

import (
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Mime types shared by the registry and the bundled backends
const (
	MimePDF       = "application/pdf"
	MimeEPUB      = "application/epub+zip"
	MimeXPS       = "application/vnd.ms-xpsdocument"
	MimeOXPS      = "application/oxps"
	MimeComicZip  = "application/vnd.comicbook+zip"
	MimeFB2       = "application/x-fictionbook+xml"
	MimeMOBI      = "application/x-mobipocket-ebook"
	MimeDjVu      = "image/vnd.djvu"
	MimePlainText = "text/plain"
	MimeMarkdown  = "text/markdown"
	MimeZip       = "application/zip"
)

// knownTypes pins extensions whose system mime mapping is missing or varies between hosts
var knownTypes = map[string]string{
	".pdf":      MimePDF,
	".epub":     MimeEPUB,
	".xps":      MimeXPS,
	".oxps":     MimeOXPS,
	".cbz":      MimeComicZip,
	".fb2":      MimeFB2,
	".mobi":     MimeMOBI,
	".djvu":     MimeDjVu,
	".djv":      MimeDjVu,
	".txt":      MimePlainText,
	".text":     MimePlainText,
	".md":       MimeMarkdown,
	".markdown": MimeMarkdown,
}

// normalizeMime lower-cases and strips parameters such as charset
func normalizeMime(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return mimeType
}

// DetectMime guesses the type of path from its extension, falling back to content sniffing
func DetectMime(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := knownTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return normalizeMime(t)
	}
	return sniffMime(path)
}

// detectLocked is DetectMime with registered extension claims consulted before sniffing
func (r *Registry) detectLocked(path, ext string) string {
	if t, ok := knownTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return normalizeMime(t)
	}
	for _, b := range r.backends {
		if claimsExtension(b, ext) && len(b.MimeTypes) > 0 {
			return normalizeMime(b.MimeTypes[0])
		}
	}
	return sniffMime(path)
}

func sniffMime(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	if n == 0 {
		return ""
	}
	return normalizeMime(http.DetectContentType(head[:n]))
}
