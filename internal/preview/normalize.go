package preview

import "strings"

// NormalizeContent turns every literal backslash-n pair into a real newline.
// Loaded articles carry content exactly as the source returned it; each
// presenter calls this once before rendering.
func NormalizeContent(s string) string {
	return strings.ReplaceAll(s, `\n`, "\n")
}
