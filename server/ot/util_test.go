package ot_test

import (
	"encoding/json"
	"math/rand"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/asadovsky/cards/server/ot"
)

func ok(t *testing.T, err error) {
	t.Helper()
	require.NoError(t, err)
}

func eq(t *testing.T, got, want interface{}) {
	t.Helper()
	require.Equal(t, want, got)
}

// decode parses the wire form, e.g. `[5,-2,"foo"]`.
func decode(t *testing.T, s string) ot.Ops {
	t.Helper()
	var ops ot.Ops
	ok(t, json.Unmarshal([]byte(s), &ops))
	return ops
}

func apply(t *testing.T, text string, ops ot.Ops) string {
	t.Helper()
	doc := ot.NewDoc(text)
	ok(t, doc.Apply(ops))
	return doc.String()
}

const alphabet = "abcdefgh é€😀"

func randomText(r *rand.Rand, n int) string {
	runes := []rune(alphabet)
	out := make([]rune, n)
	for i := range out {
		out[i] = runes[r.Intn(len(runes))]
	}
	return string(out)
}

// randomOps returns a random op sequence over text. Boundaries always fall on
// codepoints.
func randomOps(r *rand.Rand, text string) ot.Ops {
	var ops ot.Ops
	for i := 0; i < len(text); {
		// Advance by a random number of whole runes.
		j := i
		for k := r.Intn(3) + 1; k > 0 && j < len(text); k-- {
			_, size := utf8.DecodeRuneInString(text[j:])
			j += size
		}
		switch r.Intn(4) {
		case 0:
			ops = append(ops, ot.Delete(j-i))
		case 1:
			ops = append(ops, ot.Insert(randomText(r, r.Intn(3)+1)))
			continue
		default:
			ops = append(ops, ot.Retain(j-i))
		}
		i = j
	}
	if r.Intn(2) == 0 {
		ops = append(ops, ot.Insert(randomText(r, r.Intn(3)+1)))
	}
	return ot.Merge(ops)
}
