// Package artifacts persists binary tool output (screenshots, mostly)
// to a local directory so it survives the conversation. Saving is a
// side effect of tool execution and must never fail the tool call:
// callers log save errors and move on.
package artifacts

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store writes artifacts into a single flat directory. The directory
// is created on first save, not at construction, so a Store pointed at
// an unwritable path costs nothing until something is actually saved.
type Store struct {
	dir string
}

// New creates a Store rooted at dir. A leading ~ is expanded to the
// user's home directory.
func New(dir string) *Store {
	return &Store{dir: expandHome(dir)}
}

// Dir returns the directory artifacts are saved into.
func (s *Store) Dir() string {
	return s.dir
}

// SaveImage writes image bytes to a timestamp-named file and returns
// the path written. The extension is derived from the MIME subtype
// (image/png → .png), falling back to .bin for anything unrecognizable.
func (s *Store) SaveImage(mimeType string, data []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("create artifacts dir: %w", err)
	}

	base := fmt.Sprintf("shot-%d", time.Now().UnixMilli())
	ext := extFromMIME(mimeType)

	// Rapid saves within the same millisecond get a numeric suffix.
	path := filepath.Join(s.dir, base+"."+ext)
	for n := 1; ; n++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			_, werr := f.Write(data)
			cerr := f.Close()
			if werr != nil {
				return "", fmt.Errorf("write artifact: %w", werr)
			}
			if cerr != nil {
				return "", fmt.Errorf("close artifact: %w", cerr)
			}
			return path, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("create artifact: %w", err)
		}
		path = filepath.Join(s.dir, fmt.Sprintf("%s-%d.%s", base, n, ext))
	}
}

// SaveImageBase64 decodes base64 image data (as MCP image blocks carry
// it) and saves it via SaveImage.
func (s *Store) SaveImageBase64(mimeType, b64 string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("decode image data: %w", err)
	}
	return s.SaveImage(mimeType, data)
}

// extFromMIME maps a MIME type to a file extension using the subtype.
// Structured-syntax suffixes are dropped (image/svg+xml → svg).
func extFromMIME(mimeType string) string {
	_, sub, ok := strings.Cut(mimeType, "/")
	if !ok || sub == "" {
		return "bin"
	}
	if plus := strings.IndexByte(sub, '+'); plus > 0 {
		sub = sub[:plus]
	}
	for _, r := range sub {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
			return "bin"
		}
	}
	return sub
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return filepath.Join(home, path[2:])
	}
	return path
}
