package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImageDigest(t *testing.T) {
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", ImageDigest(nil))
	assert.Equal(t, ImageDigest([]byte("leaf")), ImageDigest([]byte("leaf")))
	assert.NotEqual(t, ImageDigest([]byte("leaf")), ImageDigest([]byte("leaf2")))
	assert.Len(t, ShortDigest([]byte("leaf")), 12)
}
