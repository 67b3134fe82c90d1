package embeddings

import (
	"context"
	"errors"
	"fmt"

	"embedding-gateway/internal/tokenize"
)

// Vocabulary maps single tokens to vectors of a fixed width.
type Vocabulary interface {
	Dim() int
	// Map returns the vectors of the known words; unknown words are omitted.
	Map(words []string) map[string]Vector
}

// PhraseModel serves phrases from a token vocabulary. The phrase vector is
// the mean over all tokens, unknown tokens counting as zero; a phrase has a
// vector when at least one token is known.
type PhraseModel struct {
	name  string
	vocab Vocabulary
	opts  tokenize.Options
}

// NewPhraseModel wraps vocab as a Model.
func NewPhraseModel(name string, vocab Vocabulary, opts tokenize.Options) *PhraseModel {
	return &PhraseModel{name: name, vocab: vocab, opts: opts}
}

func (m *PhraseModel) Name() string { return m.name }

func (m *PhraseModel) Dim() int { return m.vocab.Dim() }

func (m *PhraseModel) Lookup(_ context.Context, text string) (Vector, bool, error) {
	words := tokenize.Words(text)
	if len(words) == 0 {
		return nil, false, nil
	}
	found := m.vocab.Map(words)
	if m.opts.StemFallback && len(found) < len(words) {
		m.fillStems(words, found)
	}

	dim := m.vocab.Dim()
	sum := make(Vector, dim)
	known := 0
	for _, w := range words {
		v, ok := found[w]
		if !ok || len(v) != dim {
			continue
		}
		for i, x := range v {
			sum[i] += x
		}
		known++
	}
	if known == 0 {
		return nil, false, nil
	}
	if n := float32(len(words)); n > 1 {
		for i := range sum {
			sum[i] /= n
		}
	}
	return sum, true, nil
}

// fillStems resolves unknown words through their stems, in place.
func (m *PhraseModel) fillStems(words []string, found map[string]Vector) {
	stemOf := make(map[string]string)
	var stems []string
	for _, w := range words {
		if _, ok := found[w]; ok {
			continue
		}
		if s := tokenize.Stem(w, m.opts); s != w {
			stemOf[w] = s
			stems = append(stems, s)
		}
	}
	if len(stems) == 0 {
		return
	}
	byStem := m.vocab.Map(stems)
	for w, s := range stemOf {
		if v, ok := byStem[s]; ok {
			found[w] = v
		}
	}
}

// Table is an in-memory Vocabulary.
type Table struct {
	dim     int
	vectors map[string]Vector
}

var ErrEmptyVocabulary = errors.New("vocabulary is empty")

// NewTable builds a vocabulary from word vectors that all share one width.
func NewTable(vectors map[string]Vector) (*Table, error) {
	if len(vectors) == 0 {
		return nil, ErrEmptyVocabulary
	}
	dim := -1
	for w, v := range vectors {
		if dim == -1 {
			dim = len(v)
		}
		if len(v) != dim || dim == 0 {
			return nil, fmt.Errorf("word %q has %d dimensions, want %d", w, len(v), dim)
		}
	}
	return &Table{dim: dim, vectors: vectors}, nil
}

func (t *Table) Dim() int { return t.dim }

func (t *Table) Map(words []string) map[string]Vector {
	out := make(map[string]Vector, len(words))
	for _, w := range words {
		if v, ok := t.vectors[w]; ok {
			out[w] = v
		}
	}
	return out
}

// Size is the number of words in the table.
func (t *Table) Size() int { return len(t.vectors) }
