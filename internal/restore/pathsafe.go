package restore

import (
	"path"
	"strings"

	"github.com/cuemby/bastion/internal/apperr"
)

// SafeRelPath normalizes an entry path into a safe relative form before any
// sink writes to it: rejects absolute paths, ".." traversal, and embedded
// NUL bytes, and cleans "./"-style noise. This is the restore engine's
// only defense against a manifest that was tampered with or corrupted
// between backup and restore.
func SafeRelPath(p string) (string, error) {
	if strings.ContainsRune(p, 0) {
		return "", apperr.New(apperr.KindValidation, "entry path contains a NUL byte")
	}
	if path.IsAbs(p) {
		return "", apperr.New(apperr.KindValidation, "entry path is absolute")
	}
	cleaned := path.Clean(p)
	if cleaned == "" || cleaned == "." {
		return "", apperr.New(apperr.KindValidation, "entry path resolves to empty")
	}
	if strings.HasPrefix(cleaned, "../") || cleaned == ".." {
		return "", apperr.New(apperr.KindValidation, "entry path escapes restore root")
	}
	return cleaned, nil
}
