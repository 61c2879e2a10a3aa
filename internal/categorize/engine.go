// Package categorize assigns spending categories with a two-stage classifier:
// an ordered rule table, then cosine similarity of the transaction embedding
// against precomputed per-category exemplar vectors. The rule stage always
// wins when it matches; the embedding is computed either way because it is
// stored for semantic search.
package categorize

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/banksync/internal/domain"
	"github.com/dvloznov/banksync/internal/embedding"
	"github.com/dvloznov/banksync/internal/logger"
)

const (
	// embedChunkSize caps the number of texts in one generator request.
	embedChunkSize = 64
	// embedWorkers bounds concurrent generator requests for large batches.
	embedWorkers = 4
)

// Input is one transaction to categorize.
type Input struct {
	Description  string
	MerchantName string
	Amount       float64
}

// Result is the categorization decision for one input. Embedding is nil when
// the generator was unavailable; the category then comes from the rule stage
// or falls back to Uncategorized with zero confidence.
type Result struct {
	Category   string
	Confidence float64
	Source     domain.CategorySource
	Embedding  []float32
}

// exemplar is one precomputed category reference vector, in priority order.
type exemplar struct {
	category string
	vector   []float32
}

// Engine is the two-stage classifier. Construction precomputes the exemplar
// vectors in one batched call; the config is never mutated afterwards, so a
// given engine is fully deterministic.
type Engine struct {
	cfg       *Config
	gen       embedding.Generator
	exemplars []exemplar
}

// NewEngine builds an engine and precomputes exemplar embeddings. If the
// generator is unavailable the engine still works rule-only: stage two then
// assigns Uncategorized with zero confidence.
func NewEngine(ctx context.Context, cfg *Config, gen embedding.Generator) (*Engine, error) {
	e := &Engine{cfg: cfg, gen: gen}

	texts := make([]string, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		texts = append(texts, Normalize(r.ExemplarText()))
	}

	vecs, err := gen.BatchEmbed(ctx, texts)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).
			Msg("exemplar embedding unavailable, engine degrades to rule-only")
		return e, nil
	}
	if len(vecs) != len(cfg.Rules) {
		return nil, fmt.Errorf("exemplar embedding: got %d vectors for %d categories", len(vecs), len(cfg.Rules))
	}

	e.exemplars = make([]exemplar, len(cfg.Rules))
	for i, r := range cfg.Rules {
		e.exemplars[i] = exemplar{category: r.Category, vector: vecs[i]}
	}
	return e, nil
}

// Categorize decides the category for a single transaction. Like
// CategorizeBatch, a degraded result is returned alongside the error.
func (e *Engine) Categorize(ctx context.Context, in Input) (Result, error) {
	results, err := e.CategorizeBatch(ctx, []Input{in})
	if len(results) == 0 {
		return Result{}, err
	}
	return results[0], err
}

// CategorizeBatch decides categories for a batch. Every input's text is
// embedded (one chunked, bounded-concurrency request set) because vectors are
// stored for search, but rule-matched inputs never consult the similarity
// comparison for the decision. A generator failure degrades the batch: rule
// results stand, unmatched inputs become Uncategorized with zero confidence,
// and the error is returned alongside usable results.
func (e *Engine) CategorizeBatch(ctx context.Context, ins []Input) ([]Result, error) {
	results := make([]Result, len(ins))
	texts := make([]string, len(ins))

	// Stage 1: rules.
	for i, in := range ins {
		texts[i] = Normalize(embedText(in))
		if cat, ok := e.matchRule(in); ok {
			results[i] = Result{Category: cat, Confidence: 1.0, Source: domain.SourceRule}
		}
	}

	vecs, embedErr := e.embedAll(ctx, texts)

	// Stage 2: similarity for inputs no rule matched; attach vectors to all.
	for i := range ins {
		if vecs != nil {
			results[i].Embedding = vecs[i]
		}
		if results[i].Source == domain.SourceRule {
			continue
		}
		if vecs == nil {
			results[i] = Result{Category: domain.Uncategorized, Confidence: 0, Source: domain.SourceNone}
			continue
		}
		cat, sim := e.bestMatch(vecs[i])
		if sim < e.cfg.Threshold {
			cat = domain.Uncategorized
		}
		results[i] = Result{Category: cat, Confidence: sim, Source: domain.SourceEmbedding, Embedding: vecs[i]}
	}

	return results, embedErr
}

// matchRule evaluates the ordered rule table against merchant name, then
// description. First match wins.
func (e *Engine) matchRule(in Input) (string, bool) {
	merchant := strings.ToLower(in.MerchantName)
	desc := strings.ToLower(in.Description)
	for _, field := range []string{merchant, desc} {
		if field == "" {
			continue
		}
		for _, r := range e.cfg.Rules {
			for _, p := range r.Patterns {
				if strings.Contains(field, p) {
					return r.Category, true
				}
			}
		}
	}
	return "", false
}

// bestMatch returns the highest-similarity exemplar category. Exemplars are
// scanned in config order and only a strictly greater similarity replaces the
// current best, so ties resolve to the earlier (higher priority) category.
func (e *Engine) bestMatch(vec []float32) (string, float64) {
	best := domain.Uncategorized
	bestSim := math.Inf(-1)
	for _, ex := range e.exemplars {
		if sim := cosineSimilarity(vec, ex.vector); sim > bestSim {
			bestSim = sim
			best = ex.category
		}
	}
	if math.IsInf(bestSim, -1) {
		return domain.Uncategorized, 0
	}
	return best, bestSim
}

// embedAll embeds every text, chunked and fanned out over a small worker
// pool. Returns nil vectors (not partial results) on any failure.
func (e *Engine) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 || e.gen == nil {
		return nil, nil
	}

	vecs := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedWorkers)

	for start := 0; start < len(texts); start += embedChunkSize {
		start := start
		end := start + embedChunkSize
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			chunk, err := e.gen.BatchEmbed(gctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(vecs[start:end], chunk)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("batch embed: %w", err)
	}
	return vecs, nil
}

// embedText picks the text to embed: normalized merchant name, falling back
// to the description when the merchant is absent.
func embedText(in Input) string {
	if strings.TrimSpace(in.MerchantName) != "" {
		return in.MerchantName
	}
	return in.Description
}

// Normalize lowercases, drops store-number tokens like "#123" and pure
// digits, and collapses whitespace, so the same merchant always embeds to the
// same vector regardless of branch numbering.
func Normalize(text string) string {
	fields := strings.Fields(strings.ToLower(text))
	out := fields[:0]
	for _, f := range fields {
		if strings.HasPrefix(f, "#") || isDigits(f) {
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(s) > 0
}

// cosineSimilarity returns the cosine of the angle between two vectors, or 0
// when either has zero magnitude.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
