// internal/engine/fingerprint.go
package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/fawad-mazhar/syros/internal/models"
)

// Fingerprint computes the deterministic identity of a task's semantic
// content: its payload fields, context, glossary digest, and target
// language. Two tasks with equal fingerprints must resolve to the same
// cached result without a second external call. The row index is
// deliberately excluded so identical rows share one fingerprint.
func Fingerprint(t models.Task) string {
	names := make([]string, 0, len(t.Fields))
	for name := range t.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s\x1f%s\x1e", name, t.Fields[name])
	}
	fmt.Fprintf(&b, "ctx\x1f%s\x1e", t.Context)
	fmt.Fprintf(&b, "gls\x1f%s\x1e", t.GlossaryDigest)
	fmt.Fprintf(&b, "lang\x1f%s", t.TargetLang)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
