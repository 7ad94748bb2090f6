package storage

import (
	"encoding/hex"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// MaxFileSize is the largest upload accepted.
const MaxFileSize = 50 << 20

var allowedExtensions = map[string]struct{}{
	// images
	"jpg": {}, "jpeg": {}, "png": {}, "gif": {}, "webp": {}, "svg": {}, "bmp": {},
	// video
	"mp4": {}, "webm": {}, "mov": {}, "avi": {},
	// documents
	"pdf": {}, "doc": {}, "docx": {}, "xls": {}, "xlsx": {}, "ppt": {}, "pptx": {},
	"txt": {}, "md": {}, "csv": {}, "json": {}, "xml": {},
	// code
	"py": {}, "js": {}, "ts": {}, "html": {}, "css": {}, "sql": {}, "yaml": {}, "yml": {},
	// archives
	"zip": {}, "tar": {}, "gz": {}, "rar": {},
}

// Validate checks filename's extension and size. It does no I/O.
func Validate(filename string, size int64) error {
	ext := extension(filename)
	if _, ok := allowedExtensions[ext]; !ok {
		return &ValidationError{Reason: fmt.Sprintf("unsupported file type %q", "."+ext)}
	}
	if size < 0 {
		return &ValidationError{Reason: "negative size"}
	}
	if size > MaxFileSize {
		return &ValidationError{Reason: fmt.Sprintf("file too large, maximum is %dMB", MaxFileSize>>20)}
	}
	return nil
}

// GeneratePath builds owner/YYYYMMDD/<name hash>_<random><ext>.
func GeneratePath(owner, filename string, now time.Time) string {
	sum := blake3.Sum256([]byte(filename))
	nameHash := hex.EncodeToString(sum[:])[:8]
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]

	ext := extension(filename)
	if ext != "" {
		ext = "." + ext
	}
	return path.Join(owner, now.Format("20060102"), nameHash+"_"+suffix+ext)
}

// FileURL is the API route a stored file is served from.
func FileURL(p string) string {
	return "/api/files/" + p
}

func extension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

func validateOwner(owner string) error {
	if owner == "" || strings.HasPrefix(owner, ".") || strings.ContainsAny(owner, `/\`) {
		return &ValidationError{Reason: fmt.Sprintf("invalid owner %q", owner)}
	}
	return nil
}

// validatePath accepts only the owner/date/name shape GeneratePath produces.
func validatePath(p string) error {
	clean := path.Clean(p)
	if p == "" || clean != p || path.IsAbs(clean) {
		return &ValidationError{Reason: fmt.Sprintf("invalid path %q", p)}
	}
	segments := strings.Split(clean, "/")
	if len(segments) != 3 {
		return &ValidationError{Reason: fmt.Sprintf("invalid path %q", p)}
	}
	for _, seg := range segments[1:] {
		if seg == "" || strings.HasPrefix(seg, ".") {
			return &ValidationError{Reason: fmt.Sprintf("invalid path %q", p)}
		}
	}
	return validateOwner(segments[0])
}
