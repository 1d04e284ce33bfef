package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNullableStringRoundTrip(t *testing.T) {
	assert.Nil(t, nullableString(""))
	got := nullableString("abc")
	assert.Equal(t, "abc", deref(got))
	assert.Equal(t, "", deref(nil))
}
