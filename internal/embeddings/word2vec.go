package embeddings

import (
	"bufio"
	"fmt"
	"math"
	"os"

	"code.sajari.com/word2vec"

	"embedding-gateway/internal/tokenize"
)

type word2vecVocabulary struct {
	model *word2vec.Model
}

func (v word2vecVocabulary) Dim() int { return v.model.Dim() }

// Map drops rows that loaded as NaN. The loader scales every row to unit
// length, so an all-zero row has no usable direction.
func (v word2vecVocabulary) Map(words []string) map[string]Vector {
	raw := v.model.Map(words)
	out := make(map[string]Vector, len(raw))
	for w, vec := range raw {
		if hasNaN(vec) {
			continue
		}
		out[w] = Vector(vec)
	}
	return out
}

func hasNaN(vec []float32) bool {
	for _, x := range vec {
		if math.IsNaN(float64(x)) {
			return true
		}
	}
	return false
}

// LoadWord2Vec reads a word2vec binary model from path. Vectors are served
// unit-normalized, as the loader stores them.
func LoadWord2Vec(path, name string, opts tokenize.Options) (*PhraseModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open word2vec model: %w", err)
	}
	defer f.Close()

	model, err := word2vec.FromReader(bufio.NewReaderSize(f, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read word2vec model %s: %w", path, err)
	}
	if model.Dim() <= 0 {
		return nil, fmt.Errorf("word2vec model %s has no dimensions", path)
	}
	return NewPhraseModel(name, word2vecVocabulary{model: model}, opts), nil
}
