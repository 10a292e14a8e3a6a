package filecache

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/filecache/filecache/retrieve"
)

// mimeChecker builds a retrieve.CheckMime that sniffs a populated entry's
// content and rejects it unless it matches the configured allow-set. A
// cache with no MimeTypes configured skips the check entirely.
func mimeChecker(cfg *Config) retrieve.CheckMime {
	if len(cfg.MimeTypes) == 0 {
		return nil
	}
	return func(path string) error {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIoError, err)
		}
		defer f.Close()

		var buf [512]byte
		n, err := f.Read(buf[:])
		if err != nil && n == 0 {
			return fmt.Errorf("%w: %v", ErrIoError, err)
		}

		detected := http.DetectContentType(buf[:n])
		if base, _, ok := strings.Cut(detected, ";"); ok {
			detected = strings.TrimSpace(base)
		}

		if !cfg.allowsMime(detected) {
			return fmt.Errorf("%w: %s", ErrDisallowedMime, detected)
		}
		return nil
	}
}
