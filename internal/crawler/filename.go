package crawler

import (
	"fmt"
	"regexp"
)

var unsafeFilenameChars = regexp.MustCompile(`[^\w\-. ]`)

const (
	maxFilenameStem = 200
	hashSuffixLen   = 16
)

// SafeFilename maps a URL to a filesystem-safe stem. Stems longer than 200
// bytes are truncated and suffixed with a digest prefix so distinct URLs keep
// distinct names.
func SafeFilename(rawURL string, hasher Hasher) string {
	stem := unsafeFilenameChars.ReplaceAllString(rawURL, "_")
	if len(stem) <= maxFilenameStem {
		return stem
	}
	if hasher == nil {
		return stem[:maxFilenameStem]
	}
	sum, err := hasher.Hash([]byte(rawURL))
	if err != nil || len(sum) < hashSuffixLen {
		return stem[:maxFilenameStem]
	}
	keep := maxFilenameStem - hashSuffixLen - 1
	return stem[:keep] + "_" + sum[:hashSuffixLen]
}

// SliceFilename names the n-th viewport slice of a page.
func SliceFilename(stem string, n int, format Format) string {
	return fmt.Sprintf("%s_part_%d.%s", stem, n, format.Ext())
}
