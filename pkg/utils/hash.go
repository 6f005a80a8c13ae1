package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// ImageDigest returns the hex SHA-256 of the image bytes. Used as the
// prediction cache key, so identical uploads share one prediction.
func ImageDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ShortDigest is the first 12 hex characters of ImageDigest, for log fields.
func ShortDigest(data []byte) string {
	return ImageDigest(data)[:12]
}
