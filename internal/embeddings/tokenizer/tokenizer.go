package tokenizer

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"unicode"

	"github.com/dlclark/regexp2"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/unicode/norm"

	"github.com/23skdu/fletcher-clip/internal/cache"
)

const (
	StartOfText = "<|startoftext|>"
	EndOfText   = "<|endoftext|>"

	// DefaultSequenceLength is the context length of every CLIP text encoder.
	DefaultSequenceLength = 77

	// DefaultCacheSize bounds the per-word BPE cache.
	DefaultCacheSize = 1 << 16

	endOfWord = "</w>"
)

// pretokenizePattern splits cleaned text into words the way the CLIP
// reference tokenizer does. Matching is case-insensitive.
const pretokenizePattern = `<\|startoftext\|>|<\|endoftext\|>|'s|'t|'re|'ve|'m|'ll|'d|[\p{L}]+|[\p{N}]|[^\s\p{L}\p{N}]+`

var ErrMissingSpecialToken = errors.New("vocabulary is missing a special token")

// Tokenizer turns a batch of strings into fixed-length token ID sequences.
type Tokenizer interface {
	// Encode returns one row of exactly SequenceLength() IDs per text.
	Encode(texts ...string) ([][]int, error)
	SequenceLength() int
	PadTokenID() int
}

// BPETokenizer implements the CLIP byte-level BPE tokenizer.
// It is safe for concurrent use.
type BPETokenizer struct {
	vocab          map[string]int
	ranks          map[string]int
	pretokenizer   *regexp2.Regexp
	startID        int
	endID          int
	padID          int
	sequenceLength int
	cacheSize      int

	cache *cache.LRU[[]int] // word -> ids
}

// Option configures a BPETokenizer.
type Option func(*BPETokenizer)

// WithSequenceLength sets the padded output length (default 77).
func WithSequenceLength(n int) Option {
	return func(t *BPETokenizer) { t.sequenceLength = n }
}

// WithCacheSize bounds the number of words whose BPE encoding is cached.
// Zero or less disables the bound.
func WithCacheSize(n int) Option {
	return func(t *BPETokenizer) { t.cacheSize = n }
}

// WithPadTokenID sets the ID used to pad sequences (default end-of-text).
func WithPadTokenID(id int) Option {
	return func(t *BPETokenizer) { t.padID = id }
}

// New builds a tokenizer from an in-memory vocabulary and merge list.
// Each merge is a space separated pair, e.g. "t h</w>", in priority order.
func New(vocab map[string]int, merges []string, opts ...Option) (*BPETokenizer, error) {
	startID, ok := vocab[StartOfText]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingSpecialToken, StartOfText)
	}
	endID, ok := vocab[EndOfText]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingSpecialToken, EndOfText)
	}

	ranks := make(map[string]int, len(merges))
	for i, m := range merges {
		if _, dup := ranks[m]; !dup {
			ranks[m] = i
		}
	}

	t := &BPETokenizer{
		vocab:          vocab,
		ranks:          ranks,
		pretokenizer:   regexp2.MustCompile(pretokenizePattern, regexp2.IgnoreCase),
		startID:        startID,
		endID:          endID,
		padID:          endID,
		sequenceLength: DefaultSequenceLength,
		cacheSize:      DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.cache = cache.NewLRU[[]int](t.cacheSize)

	if t.sequenceLength < 2 {
		return nil, fmt.Errorf("sequence length %d cannot hold start and end tokens", t.sequenceLength)
	}
	return t, nil
}

func (t *BPETokenizer) SequenceLength() int { return t.sequenceLength }

func (t *BPETokenizer) PadTokenID() int { return t.padID }

// StartTokenID returns the ID of <|startoftext|>.
func (t *BPETokenizer) StartTokenID() int { return t.startID }

// EndTokenID returns the ID of <|endoftext|>.
func (t *BPETokenizer) EndTokenID() int { return t.endID }

// VocabularySize returns the number of entries in the vocabulary.
func (t *BPETokenizer) VocabularySize() int { return len(t.vocab) }

// Encode tokenizes every text to [BOS] tokens [EOS] pad..., truncating long
// inputs so that EOS is always the last non-pad token.
func (t *BPETokenizer) Encode(texts ...string) ([][]int, error) {
	out := make([][]int, len(texts))
	for i, text := range texts {
		tokens, err := t.Tokenize(text)
		if err != nil {
			return nil, fmt.Errorf("failed to tokenize text %d: %w", i, err)
		}
		out[i] = t.frame(tokens)
	}
	return out, nil
}

func (t *BPETokenizer) frame(tokens []int) []int {
	maxBody := t.sequenceLength - 2
	if len(tokens) > maxBody {
		tokens = tokens[:maxBody]
	}

	ids := make([]int, t.sequenceLength)
	ids[0] = t.startID
	copy(ids[1:], tokens)
	ids[len(tokens)+1] = t.endID
	for i := len(tokens) + 2; i < len(ids); i++ {
		ids[i] = t.padID
	}
	return ids
}

// Tokenize returns the BPE token IDs of text without start, end or pad tokens.
func (t *BPETokenizer) Tokenize(text string) ([]int, error) {
	cleaned := clean(text)
	if cleaned == "" {
		return nil, nil
	}

	var ids []int
	m, err := t.pretokenizer.FindStringMatch(cleaned)
	for ; m != nil && err == nil; m, err = t.pretokenizer.FindNextMatch(m) {
		ids = append(ids, t.encodeWord(m.String())...)
	}
	if err != nil {
		return nil, fmt.Errorf("pretokenizer: %w", err)
	}
	return ids, nil
}

// clean unescapes HTML entities, normalizes to NFC, collapses whitespace and
// lower-cases.
func clean(text string) string {
	text = html.UnescapeString(html.UnescapeString(text))
	text = norm.NFC.String(text)
	text = strings.Join(strings.FieldsFunc(text, unicode.IsSpace), " ")
	return strings.ToLower(text)
}

func (t *BPETokenizer) encodeWord(word string) []int {
	if id, ok := t.vocab[word]; ok && (word == StartOfText || word == EndOfText) {
		return []int{id}
	}
	if cached, ok := t.cache.Get(word); ok {
		return cached
	}

	encoded := encodeBytes(word)

	// Fast path: the whole word is a single token
	if id, ok := t.vocab[encoded+endOfWord]; ok {
		ids := []int{id}
		t.cache.Put(word, ids)
		return ids
	}

	runes := []rune(encoded)
	parts := make([]string, len(runes))
	for i, r := range runes {
		parts[i] = string(r)
	}
	parts[len(parts)-1] += endOfWord

	// Repeatedly merge the lowest-rank adjacent pair
	for len(parts) > 1 {
		minRank := int(^uint(0) >> 1)
		minIdx := -1
		for i := 0; i < len(parts)-1; i++ {
			if rank, ok := t.ranks[parts[i]+" "+parts[i+1]]; ok && rank < minRank {
				minRank = rank
				minIdx = i
			}
		}
		if minIdx < 0 {
			break
		}
		parts[minIdx] += parts[minIdx+1]
		parts = append(parts[:minIdx+1], parts[minIdx+2:]...)
	}

	ids := make([]int, 0, len(parts))
	for _, part := range parts {
		id, ok := t.vocab[part]
		if !ok {
			log.Debug().Str("symbol", part).Str("word", word).Msg("symbol not in vocabulary, dropping")
			continue
		}
		ids = append(ids, id)
	}
	t.cache.Put(word, ids)
	return ids
}
