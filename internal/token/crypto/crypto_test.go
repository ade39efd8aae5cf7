package crypto

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "nser/pkg/domain-errors"
)

func newTestGenerator(t *testing.T) *Generator {
	t.Helper()
	g, err := NewGenerator([]byte("test-key-0123456789"), DefaultPrefix)
	require.NoError(t, err)
	return g
}

func generate(t *testing.T, g *Generator, owner string, i int) Output {
	t.Helper()
	out, err := g.Generate(Input{
		OwnerMaterial: owner,
		Salt:          fmt.Sprintf("salt-%d", i),
		Nonce:         fmt.Sprintf("nonce-%d", i),
		Timestamp:     time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC),
	})
	require.NoError(t, err)
	return out
}

func TestGenerate_Shape(t *testing.T) {
	g := newTestGenerator(t)
	out := generate(t, g, "owner-ref-1", 1)

	assert.Equal(t, CurrentVersion, out.Version)
	assert.Len(t, out.Hash, HashLength)
	assert.Equal(t, strings.ToUpper(out.Hash), out.Hash)
	assert.Len(t, out.Checksum, ChecksumDigits)
	assert.Equal(t, fmt.Sprintf("BST-02-%s-%s", out.Hash, out.Checksum), out.Value)
}

func TestGenerate_Deterministic(t *testing.T) {
	g := newTestGenerator(t)
	a := generate(t, g, "owner", 7)
	b := generate(t, g, "owner", 7)
	assert.Equal(t, a, b)

	other, err := NewGenerator([]byte("another-key"), DefaultPrefix)
	require.NoError(t, err)
	c := generate(t, other, "owner", 7)
	assert.NotEqual(t, a.Hash, c.Hash, "key must change the hash")
}

func TestGenerate_DistinctInputsDistinctHashes(t *testing.T) {
	g := newTestGenerator(t)
	seen := map[string]bool{}
	for i := range 500 {
		out := generate(t, g, fmt.Sprintf("owner-%d", i%10), i)
		assert.False(t, seen[out.Hash], "collision at %d", i)
		seen[out.Hash] = true
	}
}

func TestGenerate_RejectsMissingMaterial(t *testing.T) {
	g := newTestGenerator(t)
	_, err := g.Generate(Input{Salt: "s", Nonce: "n"})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = g.Generate(Input{OwnerMaterial: "o"})
	require.Error(t, err)
}

func TestValidateFormat_AcceptsGenerated(t *testing.T) {
	g := newTestGenerator(t)
	for i := range 200 {
		out := generate(t, g, fmt.Sprintf("owner-%d", i), i)
		require.True(t, g.ValidateFormat(out.Value), out.Value)
	}
}

// Any single-character mutation of a generated value must fail validation.
func TestValidateFormat_SingleCharacterMutation(t *testing.T) {
	g := newTestGenerator(t)
	alphabet := "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdef-_ "

	for i := range 20 {
		value := generate(t, g, fmt.Sprintf("owner-%d", i), i).Value
		for pos := 0; pos < len(value); pos++ {
			for _, c := range []byte(alphabet) {
				if value[pos] == c {
					continue
				}
				mutated := value[:pos] + string(c) + value[pos+1:]
				require.False(t, g.ValidateFormat(mutated), "mutation accepted: %s", mutated)
			}
		}
	}
}

func TestParse_AlteredChecksumDigit(t *testing.T) {
	g := newTestGenerator(t)
	out := generate(t, g, "owner", 3)

	last := out.Checksum[ChecksumDigits-1]
	replacement := byte('0')
	if last == '0' {
		replacement = '1'
	}
	altered := out.Value[:len(out.Value)-1] + string(replacement)

	_, err := g.Parse(altered)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidFormat))
	assert.Equal(t, "checksum mismatch", dErrors.MessageOf(err))
}

func TestParse_MalformedInputs(t *testing.T) {
	g := newTestGenerator(t)
	hash := strings.Repeat("A", HashLength)
	valid := fmt.Sprintf("BST-02-%s-%s", hash, Checksum(hash))
	require.True(t, g.ValidateFormat(valid))

	cases := map[string]string{
		"empty":            "",
		"garbage":          "hello",
		"wrong prefix":     strings.Replace(valid, "BST", "XYZ", 1),
		"old version":      strings.Replace(valid, "-02-", "-01-", 1),
		"lowercase hash":   fmt.Sprintf("BST-02-%s-%s", strings.ToLower(hash), Checksum(hash)),
		"oversized":        valid + strings.Repeat("0", 4096),
		"unicode":          strings.Replace(valid, "A", "Á", 1),
		"extra segment":    valid[:len(valid)-5] + "--000",
		"null byte":        valid[:10] + "\x00" + valid[11:],
		"non digit sum":    valid[:len(valid)-1] + "X",
		"sql":              "'; DROP TABLE tokens;--",
		"short checksum":   valid[:len(valid)-1],
		"five part dashes": "BST-02-AAAA-AAAA-AAAAAAAAAAAAAAAAAAAAAAAA-0000",
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.False(t, g.ValidateFormat(value))
			})
		})
	}
}

func TestChecksum(t *testing.T) {
	assert.Equal(t, "0000", Checksum(strings.Repeat("0", HashLength)))
	assert.Equal(t, "0480", Checksum(strings.Repeat("F", HashLength)))
	assert.Equal(t, "0010", Checksum("A"))
}

func TestNewGenerator_Validation(t *testing.T) {
	_, err := NewGenerator(make([]byte, 65), "BST")
	require.Error(t, err)

	_, err = NewGenerator(nil, "bst")
	require.Error(t, err)

	g, err := NewGenerator(nil, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultPrefix, g.Prefix())
}

func TestRandomHex(t *testing.T) {
	a, err := RandomHex(16)
	require.NoError(t, err)
	b, err := RandomHex(16)
	require.NoError(t, err)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}

func FuzzParse(f *testing.F) {
	f.Add("BST-02-AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA-0320")
	f.Add("")
	f.Add("BST-02--")
	f.Fuzz(func(t *testing.T, value string) {
		g, _ := NewGenerator(nil, DefaultPrefix)
		parsed, err := g.Parse(value)
		if err == nil && Checksum(parsed.Hash) != parsed.Checksum {
			t.Fatalf("accepted value with bad checksum: %q", value)
		}
	})
}
