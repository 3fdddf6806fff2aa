package vector

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/jdkato/prose/v2"
	"go.uber.org/zap"

	"github.com/lodeworks/backend/pkg/logger"
)

type Source string

const (
	SourceProvider Source = "provider"
	SourceFallback Source = "fallback"
)

// FallbackModelID identifies vectors derived locally instead of by the
// embedding provider. The version suffix changes whenever the hashing
// scheme changes, since old and new fallback vectors are not comparable.
const FallbackModelID = "local-hash-v1"

type Embedding struct {
	Vector  []float32
	ModelID string
	Source  Source
}

// Provider is the external embedding API. May be unavailable at runtime.
type Provider interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
	EmbeddingModel() string
}

// Cache holds previously computed provider vectors keyed by text hash.
type Cache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32) error
}

type Embedder struct {
	provider Provider
	cache    Cache
	dim      int
}

func NewEmbedder(provider Provider, cache Cache, dim int) *Embedder {
	return &Embedder{
		provider: provider,
		cache:    cache,
		dim:      dim,
	}
}

// Embed is total: it always returns a usable vector. Provider failures
// are absorbed into the deterministic local fallback, distinguishable by
// the ModelID and Source fields.
func (e *Embedder) Embed(ctx context.Context, text string) Embedding {
	textHash := hashKey(text)

	// Cached vectors are provider vectors, so the cache is only
	// consulted when a provider is configured.
	if e.cache != nil && e.provider != nil {
		if vec, ok, err := e.cache.GetEmbedding(ctx, textHash); err == nil && ok {
			return Embedding{Vector: vec, ModelID: e.provider.EmbeddingModel(), Source: SourceProvider}
		}
	}

	if e.provider != nil {
		vec, err := e.provider.GenerateEmbedding(ctx, text)
		if err == nil && len(vec) > 0 {
			if e.cache != nil {
				if cacheErr := e.cache.SetEmbedding(ctx, textHash, vec); cacheErr != nil {
					logger.Debug("Failed to cache embedding", zap.Error(cacheErr))
				}
			}
			return Embedding{Vector: vec, ModelID: e.provider.EmbeddingModel(), Source: SourceProvider}
		}
		logger.Warn("Embedding provider failed, using local fallback", zap.Error(err))
	}

	return Embedding{
		Vector:  FallbackVector(text, e.dim),
		ModelID: FallbackModelID,
		Source:  SourceFallback,
	}
}

// FallbackVector derives a vector from the text itself by hashing
// fixed-size token chunks into per-dimension values in [-1, 1].
// Identical text always yields an identical vector.
func FallbackVector(text string, dim int) []float32 {
	if dim <= 0 {
		dim = 1536
	}

	tokens := Tokenize(text)
	if len(tokens) == 0 {
		tokens = []string{""}
	}

	const chunkSize = 8
	var chunks []string
	for i := 0; i < len(tokens); i += chunkSize {
		end := i + chunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, strings.Join(tokens[i:end], " "))
	}

	vec := make([]float32, dim)
	for i := 0; i < dim; i++ {
		chunk := chunks[i%len(chunks)]
		sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s", i, chunk)))
		u := binary.BigEndian.Uint64(sum[:8])
		vec[i] = float32(2*(float64(u)/float64(math.MaxUint64)) - 1)
	}

	return vec
}

// Tokenize splits normalized text into lowercase word tokens. The prose
// tokenizer handles punctuation better than naive splitting; if it
// cannot process the text we fall back to whitespace fields.
func Tokenize(text string) []string {
	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))
	if normalized == "" {
		return nil
	}

	doc, err := prose.NewDocument(normalized,
		prose.WithSegmentation(false),
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return strings.Fields(normalized)
	}

	var tokens []string
	for _, tok := range doc.Tokens() {
		if tok.Text != "" {
			tokens = append(tokens, tok.Text)
		}
	}

	if len(tokens) == 0 {
		return strings.Fields(normalized)
	}
	return tokens
}

func hashKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%x", sum[:16])
}
