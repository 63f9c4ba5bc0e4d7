package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint derives the stable cross-run identifier of a listing. The
// source-native id is preferred; otherwise the normalized title and URL are
// hashed together with the source.
func Fingerprint(source, nativeID, title, url string) string {
	source = strings.ToLower(strings.TrimSpace(source))
	if id := strings.TrimSpace(nativeID); id != "" {
		return source + ":" + id
	}

	sum := sha256.Sum256([]byte(source + "|" + NormalizeTitle(title) + "|" + strings.TrimSpace(url)))
	return source + ":h:" + hex.EncodeToString(sum[:16])
}

// NormalizeTitle lowercases and collapses whitespace so cosmetic edits of a
// title do not produce a new fingerprint.
func NormalizeTitle(title string) string {
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}
