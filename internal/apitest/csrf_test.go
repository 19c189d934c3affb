package apitest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCSRFToken(t *testing.T) {
	key := []byte("12345678901234567890123456789012")

	first := newCSRFToken("cookie", key)
	second := newCSRFToken("cookie", key)

	assert.NotEqual(t, first, second)
	assert.True(t, validCSRFToken(first, "cookie", key))
	assert.True(t, validCSRFToken(second, "cookie", key))
	assert.False(t, validCSRFToken(first, "other-cookie", key))
	assert.False(t, validCSRFToken(first, "", key))
	assert.False(t, validCSRFToken("garbage", "cookie", key))
	assert.False(t, validCSRFToken("zz.abc", "cookie", key))
}
