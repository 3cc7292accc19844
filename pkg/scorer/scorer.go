// Package scorer converts evaluation outcomes into bounded per-miner scores.
// Credibility is an EMA over byte-weighted verification verdicts; the score
// is the index's reward value scaled by credibility, with per-evaluation
// growth capped so a miner cannot spike its score by briefly advertising a
// huge index.
package scorer

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gather-network/gatherx/pkg/data"
	"github.com/gather-network/gatherx/pkg/rewards"
	"github.com/gather-network/gatherx/pkg/utils"
	"github.com/gather-network/gatherx/pkg/verifier"
)

const (
	// StartingCredibility is where every miner begins and where Reset
	// returns them. Trust is earned, never granted.
	StartingCredibility = 0.0

	// CredibilityAlpha is the EMA step: each evaluation moves credibility
	// this fraction of the way toward the observed pass rate.
	CredibilityAlpha = 0.15

	// CredibilityExponent sharpens the credibility scaling so partially
	// honest miners earn much less than fully honest ones.
	CredibilityExponent = 2.5

	// ScoreGrowthLimitPercent caps per-evaluation score growth once a miner
	// is past the absolute threshold.
	ScoreGrowthLimitPercent = 1.05
)

// ScoreGrowthLimitThresholdBytes is the score below which growth is
// unrestricted; above it, a score may only grow by ScoreGrowthLimitPercent
// per evaluation.
var ScoreGrowthLimitThresholdBytes = utils.MbToBytes(1000)

// MinerScorer tracks one score and one credibility per UID. All methods are
// safe for concurrent use.
type MinerScorer struct {
	mu          sync.Mutex
	scores      []float64
	credibility []float64
	calculator  *rewards.ValueCalculator
	logger      *zap.Logger
}

// NewMinerScorer creates a scorer sized for the given miner population.
func NewMinerScorer(size int, calculator *rewards.ValueCalculator, logger *zap.Logger) *MinerScorer {
	s := &MinerScorer{
		scores:      make([]float64, size),
		credibility: make([]float64, size),
		calculator:  calculator,
		logger:      logger,
	}
	for i := range s.credibility {
		s.credibility[i] = StartingCredibility
	}
	return s
}

// OnMinerEvaluated records the outcome of one evaluation. Credibility is
// always updated, even when the evaluation produced no index: a miner that
// fails to serve its advertised data is indistinguishable from one serving
// bad data. The score is zero without an index.
func (s *MinerScorer) OnMinerEvaluated(uid int, index *data.ScorableMinerIndex, results []verifier.ValidationResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if uid < 0 || uid >= len(s.scores) {
		s.logger.Error("[scorer] evaluation for unknown uid", zap.Int("uid", uid), zap.Int("size", len(s.scores)))
		return
	}

	s.updateCredibility(uid, results)

	var raw float64
	if index != nil {
		current := data.TimeBucketFromTime(time.Now())
		raw = s.calculator.IndexValue(index, current) * math.Pow(s.credibility[uid], CredibilityExponent)
	}

	// Bound per-evaluation growth. Below the threshold a score may jump
	// straight to the threshold; above it, growth compounds at 5% per
	// evaluation.
	limit := math.Max(float64(ScoreGrowthLimitThresholdBytes), s.scores[uid]*ScoreGrowthLimitPercent)
	if raw > limit {
		raw = limit
	}
	// Negative label scale factors can price an index below zero; a score
	// never goes below it.
	if raw < 0 {
		raw = 0
	}
	s.scores[uid] = raw

	s.logger.Info("[scorer] miner evaluated",
		zap.Int("uid", uid),
		zap.Float64("score", raw),
		zap.Float64("credibility", s.credibility[uid]),
		zap.Int("results", len(results)))
}

// updateCredibility folds the byte-weighted pass rate of this evaluation's
// results into the miner's credibility. Zero validated bytes count as a
// fully failed observation. Callers hold the lock.
func (s *MinerScorer) updateCredibility(uid int, results []verifier.ValidationResult) {
	var totalBytes, validBytes int64
	for _, r := range results {
		totalBytes += r.ContentSizeBytesValidated
		if r.IsValid {
			validBytes += r.ContentSizeBytesValidated
		}
	}
	var observed float64
	if totalBytes > 0 {
		observed = float64(validBytes) / float64(totalBytes)
	}
	s.credibility[uid] += CredibilityAlpha * (observed - s.credibility[uid])
}

// Score returns the miner's current score, or 0 for an unknown uid.
func (s *MinerScorer) Score(uid int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if uid < 0 || uid >= len(s.scores) {
		return 0
	}
	return s.scores[uid]
}

// Credibility returns the miner's current credibility, or 0 for an unknown
// uid.
func (s *MinerScorer) Credibility(uid int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if uid < 0 || uid >= len(s.credibility) {
		return 0
	}
	return s.credibility[uid]
}

// Scores returns a copy of all scores, indexed by uid.
func (s *MinerScorer) Scores() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.scores))
	copy(out, s.scores)
	return out
}

// Reset returns one miner to a blank slate, used when a uid's hotkey is
// replaced by a new registration.
func (s *MinerScorer) Reset(uid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if uid < 0 || uid >= len(s.scores) {
		return
	}
	s.scores[uid] = 0
	s.credibility[uid] = StartingCredibility
}

// Resize grows the tracked population to n, preserving existing state. The
// registry never shrinks a population (uids are recycled, not removed), so
// a smaller n is ignored.
func (s *MinerScorer) Resize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= len(s.scores) {
		return
	}
	grown := make([]float64, n)
	copy(grown, s.scores)
	s.scores = grown

	grownCred := make([]float64, n)
	copy(grownCred, s.credibility)
	for i := len(s.credibility); i < n; i++ {
		grownCred[i] = StartingCredibility
	}
	s.credibility = grownCred
}

// Size returns the tracked population size.
func (s *MinerScorer) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scores)
}

type scorerState struct {
	Scores      []float64 `json:"scores"`
	Credibility []float64 `json:"credibility"`
}

// SaveState snapshots scores and credibility to a JSON file.
func (s *MinerScorer) SaveState(path string) error {
	s.mu.Lock()
	state := scorerState{
		Scores:      make([]float64, len(s.scores)),
		Credibility: make([]float64, len(s.credibility)),
	}
	copy(state.Scores, s.scores)
	copy(state.Credibility, s.credibility)
	s.mu.Unlock()

	b, err := json.Marshal(state)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write scorer state: %w", err)
	}
	return nil
}

// LoadState restores a snapshot written by SaveState, replacing current
// state. Callers decide whether a missing file is an error.
func (s *MinerScorer) LoadState(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var state scorerState
	if err := json.Unmarshal(b, &state); err != nil {
		return fmt.Errorf("decode scorer state: %w", err)
	}
	if len(state.Scores) != len(state.Credibility) {
		return fmt.Errorf("corrupt scorer state: %d scores, %d credibilities", len(state.Scores), len(state.Credibility))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores = state.Scores
	s.credibility = state.Credibility
	return nil
}
