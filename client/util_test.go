package client_test

import (
	"encoding/json"
	"math/rand"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/asadovsky/cards/server/common"
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

func decode(t *testing.T, s string) ot.Ops {
	t.Helper()
	var ops ot.Ops
	ok(t, json.Unmarshal([]byte(s), &ops))
	return ops
}

func change(t *testing.T, prop, ops string) common.Change {
	t.Helper()
	return common.Change{Prop: prop, Ops: decode(t, ops)}
}

func apply(t *testing.T, text string, ops ot.Ops) string {
	t.Helper()
	doc := ot.NewDoc(text)
	ok(t, doc.Apply(ops))
	return doc.String()
}

const alphabet = "abc é€😀"

func randomText(r *rand.Rand, n int) string {
	runes := []rune(alphabet)
	out := make([]rune, n)
	for i := range out {
		out[i] = runes[r.Intn(len(runes))]
	}
	return string(out)
}

func randomOps(r *rand.Rand, text string) ot.Ops {
	var ops ot.Ops
	for i := 0; i < len(text); {
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
