// Package archive builds the password-protected zip handed to the user
// when output cannot be sent directly.
package archive

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"

	"github.com/yeka/zip"

	"github.com/tunegrab/tunegrab/internal/platform"
)

// Archive settings
const (
	ExtensionZip = ".zip"

	// Entry name bound inside the archive.
	entryNameMax = 100

	// Password bounds; four digits, never starting with zero.
	passwordMin = 1000
	passwordMax = 9999
)

// NewPassword returns a fresh numeric archive password.
func NewPassword() string {
	return strconv.Itoa(passwordMin + rand.IntN(passwordMax-passwordMin+1))
}

// Packer writes AES-encrypted zip archives.
type Packer struct {
	onProgress func(done, total int) // callback after each stored entry
}

// NewPacker creates a packer. onProgress may be nil.
func NewPacker(onProgress func(done, total int)) *Packer {
	return &Packer{onProgress: onProgress}
}

// Pack stores files into a new archive at dest, encrypting every entry
// with password. Entry names are sanitized and deduplicated; a partial
// archive is removed on error or cancellation.
func (p *Packer) Pack(ctx context.Context, files []string, dest, password string) (err error) {
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		out.Close()
		if err != nil {
			os.Remove(dest)
		}
	}()

	zw := zip.NewWriter(out)
	seen := make(map[string]int)

	for i, path := range files {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err = p.storeFile(zw, path, entryName(path, seen), password); err != nil {
			return err
		}
		if p.onProgress != nil {
			p.onProgress(i+1, len(files))
		}
	}

	if err = zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	return out.Close()
}

func (p *Packer) storeFile(zw *zip.Writer, path, name, password string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer in.Close()

	w, err := zw.Encrypt(name, password, zip.AES256Encryption)
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("store %s: %w", name, err)
	}
	return nil
}

// entryName derives a safe, unique archive member name for path.
func entryName(path string, seen map[string]int) string {
	name := platform.SafeFileName(filepath.Base(path), entryNameMax)
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s_%d%s", name[:len(name)-len(ext)], n+1, ext)
}
