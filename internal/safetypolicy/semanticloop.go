package safetypolicy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/amabito/veronica-core-sub002/internal/safetytypes"
)

// loopEntry is one normalised output plus its frozen word set, the unit the
// guard compares pairwise.
type loopEntry struct {
	normalized string
	words      map[string]struct{}
}

// SemanticLoopGuard watches a rolling window of the last WindowSize outputs
// for a chain and denies once any pair of them — normalised and compared
// word-for-word — looks like the same attempt repeated. Exact normalised
// equality short-circuits to its own reason; otherwise similarity is
// Jaccard overlap of the word sets, which catches near-duplicate
// rephrasings a byte-for-byte comparison would miss. Outputs shorter than
// MinChars (after normalisation) are never compared, to avoid false
// positives on short fragments like "ok" or "done".
type SemanticLoopGuard struct {
	mu sync.Mutex

	windowSize int
	threshold  float64
	minChars   int

	window []loopEntry
	denied bool
	reason string
}

type SemanticLoopConfig struct {
	WindowSize int
	Threshold  float64 // Jaccard similarity in [0,1]; default 0.92
	MinChars   int      // minimum normalised length before a pair is compared; default 80
}

func NewSemanticLoopGuard(cfg SemanticLoopConfig) *SemanticLoopGuard {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 3
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.92
	}
	if cfg.MinChars <= 0 {
		cfg.MinChars = 80
	}
	return &SemanticLoopGuard{windowSize: cfg.WindowSize, threshold: cfg.Threshold, minChars: cfg.MinChars}
}

func (g *SemanticLoopGuard) PolicyType() string { return "semantic_loop" }

func (g *SemanticLoopGuard) Check(ctx safetytypes.PolicyContext) safetytypes.PolicyDecision {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.denied {
		return safetytypes.Denied("semantic_loop", g.reason)
	}
	return safetytypes.AllowedDecision("semantic_loop")
}

// Feed records output as the most recent entry for this chain and
// immediately re-checks the whole window: every pair of entries whose
// normalised texts both meet MinChars is compared, exact normalised
// equality denies with a reason naming "exact repetition", and Jaccard
// similarity at or above Threshold denies as a near-duplicate. Once denied
// the guard stays denied until Reset, even if later outputs stop repeating.
func (g *SemanticLoopGuard) Feed(output string) safetytypes.PolicyDecision {
	g.mu.Lock()
	defer g.mu.Unlock()

	normalized := normalizeLoopText(output)
	g.window = append(g.window, loopEntry{normalized: normalized, words: wordSet(normalized)})
	if len(g.window) > g.windowSize {
		g.window = g.window[len(g.window)-g.windowSize:]
	}

	if !g.denied {
		n := len(g.window)
		for i := 0; i < n && !g.denied; i++ {
			if len(g.window[i].normalized) < g.minChars {
				continue
			}
			for j := i + 1; j < n; j++ {
				if len(g.window[j].normalized) < g.minChars {
					continue
				}
				if g.window[i].normalized == g.window[j].normalized {
					g.denied = true
					g.reason = fmt.Sprintf("semantic_loop: exact repetition detected (entry %d == entry %d)", i, j)
					break
				}
				if sim := jaccardSimilarity(g.window[i].words, g.window[j].words); sim >= g.threshold {
					g.denied = true
					g.reason = fmt.Sprintf("semantic_loop: jaccard similarity %.3f >= %.3f (entries %d and %d)", sim, g.threshold, i, j)
					break
				}
			}
		}
	}

	if g.denied {
		return safetytypes.Denied("semantic_loop", g.reason)
	}
	return safetytypes.AllowedDecision("semantic_loop")
}

// Observe is a record-only alias kept for callers that want to feed the
// window without reading back the decision (equivalent to Feed, ignoring
// the return value).
func (g *SemanticLoopGuard) Observe(output string) {
	g.Feed(output)
}

func (g *SemanticLoopGuard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.window = nil
	g.denied = false
	g.reason = ""
}

// normalizeLoopText lowercases, trims, and collapses internal whitespace,
// matching the guard's "normalised (lowercased, whitespace-collapsed)"
// contract.
func normalizeLoopText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func wordSet(s string) map[string]struct{} {
	words := strings.Fields(s)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func jaccardSimilarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	intersection := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
