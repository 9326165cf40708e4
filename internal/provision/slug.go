// Package provision orchestrates store creation and deletion across the
// index store, the pipeline runtime, and the metadata database, unwinding
// partial work when a step fails.
package provision

import "strings"

// Slugify derives a URL-safe slug from a display name: lowercased, with
// every run of non-alphanumeric characters collapsed to a single hyphen.
// Slugify is idempotent, so a slug passed back in comes out unchanged.
func Slugify(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	pendingSep := false
	for _, r := range strings.ToLower(name) {
		alnum := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !alnum {
			pendingSep = b.Len() > 0
			continue
		}
		if pendingSep {
			b.WriteByte('-')
			pendingSep = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
