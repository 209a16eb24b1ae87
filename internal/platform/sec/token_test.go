// Copyright (c) 2026 Keiro. All rights reserved.
// Author: dev@keiro.app

package sec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

/*
TestGenerateSecureToken produces distinct URL-safe secrets of the expected size.
*/
func TestGenerateSecureToken(t *testing.T) {
	first, err := GenerateSecureToken(32)
	require.NoError(t, err)

	second, err := GenerateSecureToken(32)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	// 32 entropy bytes encode to 43 base64url characters.
	assert.Len(t, first, 43)
	assert.NotContains(t, first, "+")
	assert.NotContains(t, first, "/")
	assert.NotContains(t, first, "=")
}

/*
TestHashToken is deterministic and never echoes the input.
*/
func TestHashToken(t *testing.T) {
	digest := HashToken("some-refresh-secret")

	assert.Equal(t, digest, HashToken("some-refresh-secret"))
	assert.NotEqual(t, digest, HashToken("other-secret"))
	assert.Len(t, digest, 64)
	assert.NotContains(t, digest, "some-refresh-secret")
}
