package connid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveIsDeterministic(t *testing.T) {
	secret := []byte("01234567890123456789012345678901")
	dcid := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	a := Derive(secret, dcid)
	b := Derive(secret, dcid)
	assert.Equal(t, a, b)
	assert.Len(t, a, Length)
}

func TestDeriveVariesWithDCID(t *testing.T) {
	secret := []byte("01234567890123456789012345678901")
	a := Derive(secret, []byte{1, 2, 3})
	b := Derive(secret, []byte{1, 2, 4})
	assert.NotEqual(t, a, b)
}

func TestDeriveVariesWithSecret(t *testing.T) {
	dcid := []byte{9, 9, 9}
	a := Derive([]byte("secret-one-secret-one-secret-one"), dcid)
	b := Derive([]byte("secret-two-secret-two-secret-two"), dcid)
	assert.NotEqual(t, a, b)
}
