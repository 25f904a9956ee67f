// Package platform holds filesystem helpers shared by the download and
// packaging stages: filename sanitation, media file discovery and per-job
// working directories.
package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// File permissions
const (
	DefaultDirPermissions = 0755
)

// Filename limits
const (
	MaxFileNameLength  = 240
	MaxExtensionLength = 10
)

// Media extensions the pipeline considers output files. Partial downloads
// (.part, .ytdl) are never counted.
var (
	MediaExtensions = []string{".mp3", ".m4a", ".flac", ".mp4", ".webm"}
)

var unsafeRunPattern = regexp.MustCompile(`[\s/\\:*?"<>|]+`)

// SafeFileName normalizes a filename to plain ASCII, rewrites path-unsafe
// characters to underscores and bounds the total length while preserving
// the extension.
func SafeFileName(name string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = MaxFileNameLength
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if len(ext) > MaxExtensionLength {
		ext = ext[:MaxExtensionLength]
	}

	base = ToASCII(base)
	base = unsafeRunPattern.ReplaceAllString(base, "_")

	maxBase := maxLength - len(ext)
	if maxBase < 0 {
		maxBase = 0
	}
	if len(base) > maxBase {
		base = base[:maxBase]
	}
	return base + ext
}

// ToASCII decomposes accented characters and drops everything outside the
// ASCII range, mirroring an NFKD normalize + ascii encode.
func ToASCII(s string) string {
	decomposed := norm.NFKD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if r < 128 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ListMediaFiles returns the media files directly inside dir, sorted by name.
func ListMediaFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if IsMediaFile(entry.Name()) {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files
}

// CountMediaFiles counts the media files directly inside dir.
func CountMediaFiles(dir string) int {
	return len(ListMediaFiles(dir))
}

// IsMediaFile reports whether the filename carries a known media extension.
func IsMediaFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, m := range MediaExtensions {
		if ext == m {
			return true
		}
	}
	return false
}

// NewWorkDir creates a unique per-job working directory under root.
func NewWorkDir(root string, userID int64) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate workdir id: %w", err)
	}
	dir := filepath.Join(root, fmt.Sprintf("user_%d_%s", userID, id.String()))
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return "", fmt.Errorf("create workdir: %w", err)
	}
	return dir, nil
}

// RemoveWorkDir removes a job working directory after a short grace delay
// so lingering file handles can close. Removal errors are swallowed; the
// directory lives on a temp volume either way.
func RemoveWorkDir(dir string, grace time.Duration) {
	if dir == "" {
		return
	}
	if grace > 0 {
		time.Sleep(grace)
	}
	_ = os.RemoveAll(dir)
}
