package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentHashStableAcrossFormatting(t *testing.T) {
	a := ContentHash("The quick brown fox")
	b := ContentHash("  the   QUICK brown\n\nfox ")

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestContentHashDistinguishesContent(t *testing.T) {
	assert.NotEqual(t, ContentHash("one idea"), ContentHash("another idea"))
}
