package tokenizer

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	bos = 49406
	eos = 49407
)

func testVocab() map[string]int {
	return map[string]int{
		StartOfText: bos,
		EndOfText:   eos,
		"a</w>":     320,
		"photo</w>": 1125,
		"of</w>":    539,
		"cat</w>":   2368,
		"!</w>":     0,
		"c":         10,
		"a":         11,
		"t":         12,
		"s</w>":     13,
		"ca":        14,
		"cat":       15,
	}
}

func testMerges() []string {
	return []string{"c a", "ca t"}
}

func newTestTokenizer(t *testing.T, opts ...Option) *BPETokenizer {
	t.Helper()
	tk, err := New(testVocab(), testMerges(), opts...)
	require.NoError(t, err)
	return tk
}

func TestBPETokenizer_Encode(t *testing.T) {
	tk := newTestTokenizer(t)

	t.Run("PhotoOfACat", func(t *testing.T) {
		ids, err := tk.Encode("a photo of a cat")
		require.NoError(t, err)
		require.Len(t, ids, 1)
		require.Len(t, ids[0], DefaultSequenceLength)
		require.Equal(t, []int{bos, 320, 1125, 539, 320, 2368, eos}, ids[0][:7])
		for _, id := range ids[0][7:] {
			require.Equal(t, eos, id)
		}
	})

	t.Run("EmptyString", func(t *testing.T) {
		ids, err := tk.Encode("")
		require.NoError(t, err)
		require.Len(t, ids[0], DefaultSequenceLength)
		require.Equal(t, bos, ids[0][0])
		require.Equal(t, eos, ids[0][1])
	})

	t.Run("Batch", func(t *testing.T) {
		ids, err := tk.Encode("a cat", "", "of")
		require.NoError(t, err)
		require.Len(t, ids, 3)
		require.Equal(t, []int{bos, 320, 2368, eos}, ids[0][:4])
		require.Equal(t, []int{bos, 539, eos}, ids[2][:3])
	})

	t.Run("NoTexts", func(t *testing.T) {
		ids, err := tk.Encode()
		require.NoError(t, err)
		require.Empty(t, ids)
	})
}

func TestBPETokenizer_Cleaning(t *testing.T) {
	tk := newTestTokenizer(t)

	want, err := tk.Tokenize("a photo of a cat")
	require.NoError(t, err)

	got, err := tk.Tokenize("  A\tPHOTO \n of a   Cat ")
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestBPETokenizer_Merges(t *testing.T) {
	tk := newTestTokenizer(t)

	ids, err := tk.Tokenize("cats")
	require.NoError(t, err)
	require.Equal(t, []int{15, 13}, ids)

	// Cached path returns the same result
	ids, err = tk.Tokenize("cats")
	require.NoError(t, err)
	require.Equal(t, []int{15, 13}, ids)
}

func TestBPETokenizer_WordCacheIsBounded(t *testing.T) {
	tk := newTestTokenizer(t, WithCacheSize(2))

	for _, text := range []string{"cats", "cat", "a", "of", "photo", "cats"} {
		_, err := tk.Tokenize(text)
		require.NoError(t, err)
	}
	require.Equal(t, 2, tk.cache.Len())

	ids, err := tk.Tokenize("cats")
	require.NoError(t, err)
	require.Equal(t, []int{15, 13}, ids)

	require.Equal(t, DefaultCacheSize, newTestTokenizer(t).cacheSize)
}

func TestBPETokenizer_Punctuation(t *testing.T) {
	tk := newTestTokenizer(t)

	ids, err := tk.Tokenize("cat!")
	require.NoError(t, err)
	require.Equal(t, []int{2368, 0}, ids)
}

func TestBPETokenizer_SpecialTokensInText(t *testing.T) {
	tk := newTestTokenizer(t)

	ids, err := tk.Tokenize("a<|endoftext|>")
	require.NoError(t, err)
	require.Equal(t, []int{320, eos}, ids)
}

func TestBPETokenizer_Truncation(t *testing.T) {
	tk := newTestTokenizer(t, WithSequenceLength(5))
	require.Equal(t, 5, tk.SequenceLength())

	ids, err := tk.Encode("a photo of a cat")
	require.NoError(t, err)
	require.Equal(t, []int{bos, 320, 1125, 539, eos}, ids[0])
}

func TestBPETokenizer_PadTokenID(t *testing.T) {
	t.Run("DefaultIsEndOfText", func(t *testing.T) {
		tk := newTestTokenizer(t)
		require.Equal(t, eos, tk.PadTokenID())
	})

	t.Run("Zero", func(t *testing.T) {
		tk := newTestTokenizer(t, WithPadTokenID(0), WithSequenceLength(6))
		ids, err := tk.Encode("a cat")
		require.NoError(t, err)
		require.Equal(t, []int{bos, 320, 2368, eos, 0, 0}, ids[0])
	})
}

func TestNew_Errors(t *testing.T) {
	t.Run("MissingSpecialToken", func(t *testing.T) {
		vocab := testVocab()
		delete(vocab, StartOfText)
		_, err := New(vocab, nil)
		require.ErrorIs(t, err, ErrMissingSpecialToken)
	})

	t.Run("SequenceTooShort", func(t *testing.T) {
		_, err := New(testVocab(), nil, WithSequenceLength(1))
		require.Error(t, err)
	})
}

func TestEncodeBytes(t *testing.T) {
	require.Equal(t, "abc", encodeBytes("abc"))
	require.Equal(t, "Ġ", encodeBytes(" "))
	require.Equal(t, "Ā", encodeBytes("\x00"))

	seen := make(map[rune]bool, 256)
	for _, r := range byteToRune {
		require.False(t, seen[r], "duplicate mapping for %q", r)
		seen[r] = true
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	vocabPath := filepath.Join(dir, "vocab.json")
	data, err := json.Marshal(testVocab())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(vocabPath, data, 0o644))

	mergesPath := filepath.Join(dir, "merges.txt")
	require.NoError(t, os.WriteFile(mergesPath, []byte("#version: 0.2\nc a\nca t\n"), 0o644))

	tk, err := Load(vocabPath, mergesPath, WithPadTokenID(0))
	require.NoError(t, err)
	require.Equal(t, len(testVocab()), tk.VocabularySize())
	require.Equal(t, 0, tk.PadTokenID())

	ids, err := tk.Tokenize("cats")
	require.NoError(t, err)
	require.Equal(t, []int{15, 13}, ids)

	t.Run("MalformedMerges", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.txt")
		require.NoError(t, os.WriteFile(bad, []byte("c a t\n"), 0o644))
		_, err := Load(vocabPath, bad)
		require.Error(t, err)
	})

	t.Run("MissingVocab", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "nope.json"), mergesPath)
		require.Error(t, err)
	})
}
