package codec

import (
	"sync"
	"time"
)

// Stats compares one encoded HUD against its verbose JSON baseline.
type Stats struct {
	Format         Format    `json:"format"`
	BaselineChars  int       `json:"baseline_chars"`
	EncodedChars   int       `json:"encoded_chars"`
	BaselineTokens int       `json:"baseline_tokens"`
	EncodedTokens  int       `json:"encoded_tokens"`
	Timestamp      time.Time `json:"timestamp"`
}

// CharSavings returns the character delta versus the baseline.
func (s Stats) CharSavings() int {
	return s.BaselineChars - s.EncodedChars
}

// CharSavingsPct returns the character savings as a percentage.
func (s Stats) CharSavingsPct() float64 {
	if s.BaselineChars == 0 {
		return 0
	}
	return float64(s.CharSavings()) / float64(s.BaselineChars) * 100
}

// TokenSavings returns the estimated token delta versus the baseline.
func (s Stats) TokenSavings() int {
	return s.BaselineTokens - s.EncodedTokens
}

// TokenSavingsPct returns the token savings as a percentage.
func (s Stats) TokenSavingsPct() float64 {
	if s.BaselineTokens == 0 {
		return 0
	}
	return float64(s.TokenSavings()) / float64(s.BaselineTokens) * 100
}

// Telemetry aggregates encode statistics over a sliding window.
type Telemetry struct {
	mu      sync.Mutex
	entries []Stats
	max     int
}

// NewTelemetry returns a collector keeping the last max entries.
func NewTelemetry(max int) *Telemetry {
	if max <= 0 {
		max = 100
	}
	return &Telemetry{max: max}
}

// Record stores a baseline/encoded comparison and returns its stats.
// Tokens are estimated at roughly four characters per token.
func (t *Telemetry) Record(f Format, baseline, encoded string) Stats {
	entry := Stats{
		Format:         f,
		BaselineChars:  len(baseline),
		EncodedChars:   len(encoded),
		BaselineTokens: len(baseline)/4 + 1,
		EncodedTokens:  len(encoded)/4 + 1,
		Timestamp:      time.Now().UTC(),
	}

	t.mu.Lock()
	t.entries = append(t.entries, entry)
	if len(t.entries) > t.max {
		t.entries = t.entries[len(t.entries)-t.max:]
	}
	t.mu.Unlock()

	return entry
}

// Summary aggregates the recorded entries.
type Summary struct {
	Entries          int     `json:"entries"`
	TotalBaseline    int     `json:"total_baseline_chars"`
	TotalEncoded     int     `json:"total_encoded_chars"`
	AvgCharSavings   float64 `json:"avg_char_savings_pct"`
	TotalTokensSaved int     `json:"total_token_savings"`
}

// Summarize returns aggregate statistics over the window.
func (t *Telemetry) Summarize() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	var s Summary
	s.Entries = len(t.entries)
	for _, e := range t.entries {
		s.TotalBaseline += e.BaselineChars
		s.TotalEncoded += e.EncodedChars
		s.TotalTokensSaved += e.TokenSavings()
	}
	if s.TotalBaseline > 0 {
		s.AvgCharSavings = float64(s.TotalBaseline-s.TotalEncoded) / float64(s.TotalBaseline) * 100
	}
	return s
}

// Recent returns the newest n entries, oldest first.
func (t *Telemetry) Recent(n int) []Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n > len(t.entries) {
		n = len(t.entries)
	}
	out := make([]Stats, n)
	copy(out, t.entries[len(t.entries)-n:])
	return out
}
