package vault

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/starford/tessera/internal/apperr"
)

// Vault layout markers.
const (
	sectionsDir    = "sections"
	subsectionsDir = "subsections"
	documentsDir   = "documents"

	// Ext is the extension written for every mirrored document.
	Ext = ".md"
)

// Extensions lists the document extensions recognized when scanning.
var Extensions = []string{".md", ".markdown"}

// PathPattern matches a logical content path: lowercase slug segments joined
// by "/".
var PathPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*(/[a-z0-9][a-z0-9_-]*)*$`)

// PathToVaultPath maps a logical document path to its vault-relative file:
//
//	wiki/welcome        → sections/wiki/documents/welcome.md
//	wiki/a/b/welcome    → sections/wiki/subsections/a/b/documents/welcome.md
func PathToVaultPath(p string) (string, error) {
	if !PathPattern.MatchString(p) {
		return "", fmt.Errorf("%w: malformed document path %q", apperr.ErrInvalidInput, p)
	}
	segs := strings.Split(p, "/")
	if len(segs) < 2 {
		return "", fmt.Errorf("%w: document path %q needs a section", apperr.ErrInvalidInput, p)
	}
	parts := []string{sectionsDir, segs[0]}
	if subs := segs[1 : len(segs)-1]; len(subs) > 0 {
		parts = append(parts, subsectionsDir)
		parts = append(parts, subs...)
	}
	parts = append(parts, documentsDir, segs[len(segs)-1]+Ext)
	return strings.Join(parts, "/"), nil
}

// VaultPathToPath is the inverse of PathToVaultPath. Decoding is anchored on
// the trailing "documents/<name>.md", so sub-section names are unrestricted.
func VaultPathToPath(vp string) (string, error) {
	segs := strings.Split(strings.Trim(vp, "/"), "/")
	n := len(segs)
	if n < 4 || segs[0] != sectionsDir || segs[n-2] != documentsDir {
		return "", fmt.Errorf("%w: not a document file: %q", apperr.ErrInvalidInput, vp)
	}
	name, ok := trimExt(segs[n-1])
	if !ok || name == "" {
		return "", fmt.Errorf("%w: not a document file: %q", apperr.ErrInvalidInput, vp)
	}
	out := []string{segs[1]}
	if middle := segs[2 : n-2]; len(middle) > 0 {
		if middle[0] != subsectionsDir || len(middle) < 2 {
			return "", fmt.Errorf("%w: malformed sub-section path: %q", apperr.ErrInvalidInput, vp)
		}
		out = append(out, middle[1:]...)
	}
	out = append(out, name)
	p := strings.Join(out, "/")
	if !PathPattern.MatchString(p) {
		return "", fmt.Errorf("%w: malformed document path %q from %q", apperr.ErrInvalidInput, p, vp)
	}
	return p, nil
}

// IsDocumentFile reports whether name carries a recognized extension.
func IsDocumentFile(name string) bool {
	_, ok := trimExt(name)
	return ok
}

func trimExt(name string) (string, bool) {
	for _, ext := range Extensions {
		if strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext), true
		}
	}
	return name, false
}
