package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lineage-io/catalog/internal/api/middleware"
)

func TestPrintAPIKeyHash(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	var out bytes.Buffer

	require.NoError(t, printAPIKeyHash(strings.NewReader("  s3cret-key \nignored\n"), &out))

	auth, err := middleware.NewAPIKeyAuth(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.True(t, auth.Verify("s3cret-key"))

	out.Reset()
	require.ErrorIs(t, printAPIKeyHash(strings.NewReader("\n"), &out), errEmptyKey)
	assert.Empty(t, out.String())
}
