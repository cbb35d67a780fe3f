package passphrase

import (
	"bytes"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateShape(t *testing.T) {
	g := New(3)
	known := map[string]bool{}
	for _, w := range Words() {
		known[w] = true
	}

	for i := 0; i < 50; i++ {
		p, err := g.Generate()
		require.NoError(t, err)

		parts := strings.Split(p, "-")
		require.Len(t, parts, 3)
		for _, w := range parts {
			assert.True(t, known[w], "unknown word %q", w)
		}
	}
}

func TestWordListIsUsable(t *testing.T) {
	words := Words()
	require.GreaterOrEqual(t, len(words), 256)

	seen := map[string]bool{}
	for _, w := range words {
		assert.False(t, seen[w], "duplicate word %q", w)
		assert.NotContains(t, w, "-")
		seen[w] = true
	}
}

func TestDeterministicWithReader(t *testing.T) {
	src := bytes.Repeat([]byte{0x01, 0x02, 0x03, 0x04}, 64)

	a, err := NewWithReader(2, bytes.NewReader(src)).Generate()
	require.NoError(t, err)
	b, err := NewWithReader(2, bytes.NewReader(src)).Generate()
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestEntropyExhaustion(t *testing.T) {
	_, err := NewWithReader(3, bytes.NewReader(nil)).Generate()
	assert.Error(t, err)
}

func TestSpace(t *testing.T) {
	n := int64(len(Words()))
	assert.Equal(t, 0, New(2).Space().Cmp(big.NewInt(n*n)))
}
