package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitRequestDocumentsSingleObject(t *testing.T) {
	out, err := splitRequestDocuments([]byte(`{"a":1}`), false)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.JSONEq(t, `{"a":1}`, string(out[0]))
}

func TestSplitRequestDocumentsStreamingArray(t *testing.T) {
	out, err := splitRequestDocuments([]byte(`[{"a":1},{"a":2},{"a":3}]`), true)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.JSONEq(t, `{"a":2}`, string(out[1]))
}

func TestSplitRequestDocumentsArrayIgnoredWhenNotStreaming(t *testing.T) {
	// A non-streaming call treats a top-level array as one opaque document
	// (it isn't split), even though it would look array-shaped.
	out, err := splitRequestDocuments([]byte(`[{"a":1}]`), false)
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestSplitRequestDocumentsInvalidArray(t *testing.T) {
	_, err := splitRequestDocuments([]byte(`[{"a":1}`), true)
	assert.Error(t, err)
}

func TestNormalizeSymbolAcceptsSlashOrDot(t *testing.T) {
	assert.Equal(t, "pkg.Service.Method", normalizeSymbol("pkg.Service/Method"))
	assert.Equal(t, "pkg.Service.Method", normalizeSymbol("pkg.Service.Method"))
}

func TestValidateFlagsRejectsPlaintextAndInsecure(t *testing.T) {
	orig := *plaintext
	origInsecure := *insecure
	defer func() { *plaintext = orig; *insecure = origInsecure }()

	*plaintext = true
	*insecure = true
	err := validateFlags()
	assert.Error(t, err)
}
