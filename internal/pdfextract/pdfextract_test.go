package pdfextract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractReturnsMarkerForUnparseableBytes(t *testing.T) {
	out := Extract([]byte("not a real pdf"))
	assert.Equal(t, NoExtractableTextMarker, out)
}

func TestExtractReturnsMarkerForEmptyInput(t *testing.T) {
	out := Extract(nil)
	assert.Equal(t, NoExtractableTextMarker, out)
}
