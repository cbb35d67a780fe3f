package passphrase

import (
	"crypto/rand"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"nudge/internal/constants"
)

//go:embed wordlist.txt
var wordlistRaw string

var wordlist = strings.Fields(wordlistRaw)

// Words returns a copy of the embedded word list.
func Words() []string {
	out := make([]string, len(wordlist))
	copy(out, wordlist)
	return out
}

// Generator builds passphrases from random words. It does not track which
// passphrases are in use; uniqueness is the session store's job.
type Generator struct {
	words []string
	count int
	sep   string
	rand  io.Reader
}

func New(count int) *Generator {
	return NewWithReader(count, rand.Reader)
}

// NewWithReader is New with an explicit entropy source.
func NewWithReader(count int, r io.Reader) *Generator {
	if count <= 0 {
		count = constants.PassphraseWords
	}
	return &Generator{
		words: wordlist,
		count: count,
		sep:   constants.PassphraseSeparator,
		rand:  r,
	}
}

func (g *Generator) Generate() (string, error) {
	if len(g.words) == 0 {
		return "", errors.New("empty word list")
	}

	limit := big.NewInt(int64(len(g.words)))
	parts := make([]string, g.count)
	for i := range parts {
		n, err := rand.Int(g.rand, limit)
		if err != nil {
			return "", fmt.Errorf("read entropy: %w", err)
		}
		parts[i] = g.words[n.Int64()]
	}
	return strings.Join(parts, g.sep), nil
}

// Space is the number of distinct passphrases g can produce.
func (g *Generator) Space() *big.Int {
	return new(big.Int).Exp(big.NewInt(int64(len(g.words))), big.NewInt(int64(g.count)), nil)
}
