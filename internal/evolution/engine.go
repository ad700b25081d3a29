// Package evolution implements Darwinian selection and the EWMA-based
// Skill Bank feedback loop after a task outcome arrives: penalize/boost
// skill success rates, distill anti-pattern root causes into new or
// boosted skills, upsert a quota-aware-routing meta-skill on quota
// pressure, and periodically summarize promotion/demotion feedback for
// the Tier Resolver.
//
// Grounded on the teacher's evolution.Engine (A/B testing, fitness
// computation) and evolution.ExperimentManager (hypothesis-driven
// strategy experiments, wired here via StartSkillExperiment/RecordOutcome
// — see DESIGN.md), generalized from instruments.SkillMeta's LLM/Code/Hybrid
// executor-bound shape to the durable, task-type-scoped
// store.SkillBankEntry this module's Skill Bank uses.
package evolution

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/loomwork/loomwork/internal/store"
	"github.com/loomwork/loomwork/internal/telemetry"
	"github.com/loomwork/loomwork/internal/tiers"
)

// FitnessWeights controls how fitness is computed for the supplemental
// A/B testing mechanism. Verbatim from the teacher's evolution.Engine.
type FitnessWeights struct {
	SuccessRate float64
	Quality     float64
	CostSaving  float64
	Speed       float64
}

// DefaultWeights returns the teacher's balanced default weights.
func DefaultWeights() FitnessWeights {
	return FitnessWeights{SuccessRate: 0.35, Quality: 0.30, CostSaving: 0.20, Speed: 0.15}
}

// ABTest tracks an ongoing competition between two Skill Bank entries
// sharing a task_type. In-memory only, same as the teacher — a decided
// test's only durable trace is the loser being marked deprecated.
type ABTest struct {
	ID             string    `json:"id"`
	TaskType       string    `json:"task_type"`
	IncumbentName  string    `json:"incumbent_name"`
	ChallengerName string    `json:"challenger_name"`
	StartedAt      time.Time `json:"started_at"`
	MinRuns        int       `json:"min_runs"`
	IncumbentRuns  int       `json:"incumbent_runs"`
	ChallengerRuns int       `json:"challenger_runs"`
	Decided        bool      `json:"decided"`
	WinnerName     string    `json:"winner_name,omitempty"`
}

// Engine is the Evolution Engine: EWMA failure/success paths against a
// durable Skill Bank, the teacher's supplemental A/B-test mechanism, and
// periodic tier feedback emission.
type Engine struct {
	store  *store.Store
	logger *telemetry.Logger
	tiers  *tiers.Resolver

	mu      sync.Mutex
	weights FitnessWeights
	tests   map[string]*ABTest
	nextID  int

	alpha             float64
	tierFeedbackEvery int
	taskCount         int
	deprecateBelow    float64
	observationRuns   int64

	// Experiments runs hypothesis-driven strategy experiments
	// (ExperimentManager, experiment.go) — a second, statistical-
	// significance-based comparator distinct from the fitness-weighted
	// ABTest above. StartSkillExperiment registers which two skill
	// names are under test for a task_type; RecordOutcome then feeds
	// matching outcomes in as samples via recordExperimentSample and
	// deprecates the loser once the experiment concludes.
	Experiments *ExperimentManager

	// experimentsByTaskType maps a task_type to the single running
	// experiment (if any) competing for it.
	experimentsByTaskType map[string]string
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger attaches a structured logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithAlpha overrides the EWMA smoothing factor (default 0.2).
func WithAlpha(alpha float64) Option {
	return func(e *Engine) { e.alpha = alpha }
}

// WithTierFeedbackEvery overrides how many recorded outcomes elapse
// between tier feedback emissions (default 10).
func WithTierFeedbackEvery(n int) Option {
	return func(e *Engine) { e.tierFeedbackEvery = n }
}

// New creates an Evolution Engine backed by st.
func New(st *store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:                 st,
		weights:               DefaultWeights(),
		tests:                 make(map[string]*ABTest),
		alpha:                 0.2,
		tierFeedbackEvery:     10,
		deprecateBelow:        0.3,
		observationRuns:       5,
		Experiments:           NewExperimentManager(),
		experimentsByTaskType: make(map[string]string),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) logInfo(msg string, args ...any) {
	if e.logger != nil {
		e.logger.Info(msg, args...)
	}
}

// SetWeights configures the fitness weights used by the A/B-test path.
func (e *Engine) SetWeights(w FitnessWeights) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.weights = w
}

// computeFitness scores a Skill Bank entry from 0.0 (worst) to 1.0 (best),
// the teacher's formula applied to the new entry shape.
func computeFitness(w FitnessWeights, entry store.SkillBankEntry) float64 {
	if entry.UsageCount == 0 {
		return 0.5
	}
	successComponent := entry.SuccessRate
	qualityComponent := entry.AvgQuality
	costComponent := 1.0 - math.Min(entry.AvgCostUSD/0.10, 1.0)
	speedComponent := 1.0 - math.Min(math.Log10(math.Max(entry.AvgLatencyMs, 1))/4.0, 1.0)

	fitness := w.SuccessRate*successComponent +
		w.Quality*qualityComponent +
		w.CostSaving*costComponent +
		w.Speed*speedComponent
	return math.Max(0, math.Min(1, fitness))
}

// ComputeFitness exposes computeFitness under the engine's configured
// weights, for callers that want to score a skill without deprecation
// side effects.
func (e *Engine) ComputeFitness(entry store.SkillBankEntry) float64 {
	e.mu.Lock()
	w := e.weights
	e.mu.Unlock()
	return computeFitness(w, entry)
}

// SetDeprecateThreshold overrides the fitness floor below which a
// sufficiently-observed skill is deprecated (default 0.3).
func (e *Engine) SetDeprecateThreshold(t float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deprecateBelow = t
}

// SetObservationRuns overrides the minimum usage_count before a skill is
// eligible for deprecation (default 5).
func (e *Engine) SetObservationRuns(n int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observationRuns = n
}

// ShouldDeprecate reports whether entry has enough usage history and a low
// enough fitness score to be retired.
func (e *Engine) ShouldDeprecate(entry store.SkillBankEntry) bool {
	e.mu.Lock()
	w, below, minRuns := e.weights, e.deprecateBelow, e.observationRuns
	e.mu.Unlock()
	if entry.UsageCount < minRuns {
		return false
	}
	return computeFitness(w, entry) < below
}

// EvaluateAll scans every active skill in the bank and deprecates those
// ShouldDeprecate flags, returning the deprecated skill names.
func (e *Engine) EvaluateAll(ctx context.Context) ([]string, error) {
	entries, err := e.store.ListSkills(ctx, "*")
	if err != nil {
		return nil, err
	}
	var deprecated []string
	for _, entry := range entries {
		if entry.Status == store.SkillDeprecated {
			continue
		}
		if e.ShouldDeprecate(entry) {
			entry.Status = store.SkillDeprecated
			if err := e.store.UpsertSkill(ctx, entry); err != nil {
				return nil, err
			}
			deprecated = append(deprecated, entry.Name)
		}
	}
	return deprecated, nil
}

// StartABTest begins a competition between an incumbent and a challenger
// skill sharing a task_type.
func (e *Engine) StartABTest(taskType, incumbentName, challengerName string, minRuns int) *ABTest {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	test := &ABTest{
		ID:             fmt.Sprintf("ab_%d", e.nextID),
		TaskType:       taskType,
		IncumbentName:  incumbentName,
		ChallengerName: challengerName,
		StartedAt:      time.Now(),
		MinRuns:        minRuns,
	}
	e.tests[test.ID] = test
	return test
}

// RecordABRun records a run for one participant in an A/B test.
func (e *Engine) RecordABRun(testID, skillName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	test, ok := e.tests[testID]
	if !ok {
		return fmt.Errorf("A/B test %q not found", testID)
	}
	if test.Decided {
		return fmt.Errorf("A/B test %q already decided", testID)
	}
	switch skillName {
	case test.IncumbentName:
		test.IncumbentRuns++
	case test.ChallengerName:
		test.ChallengerRuns++
	default:
		return fmt.Errorf("skill %q not in test %q", skillName, testID)
	}
	return nil
}

// EvaluateABTest decides a winner once both participants have reached
// MinRuns, deprecating the loser in the Skill Bank.
func (e *Engine) EvaluateABTest(ctx context.Context, testID string) (winner, loser string, decided bool, err error) {
	e.mu.Lock()
	test, ok := e.tests[testID]
	weights := e.weights
	e.mu.Unlock()
	if !ok || test.Decided {
		return "", "", false, nil
	}
	if test.IncumbentRuns < test.MinRuns || test.ChallengerRuns < test.MinRuns {
		return "", "", false, nil
	}

	incumbent, err := e.store.GetSkill(ctx, test.TaskType, test.IncumbentName)
	if err != nil {
		return "", "", false, err
	}
	challenger, err := e.store.GetSkill(ctx, test.TaskType, test.ChallengerName)
	if err != nil {
		return "", "", false, err
	}
	if incumbent == nil || challenger == nil {
		return "", "", false, nil
	}

	incFitness := computeFitness(weights, *incumbent)
	chalFitness := computeFitness(weights, *challenger)

	e.mu.Lock()
	test.Decided = true
	if chalFitness > incFitness {
		test.WinnerName = challenger.Name
	} else {
		test.WinnerName = incumbent.Name
	}
	e.mu.Unlock()

	loserEntry := incumbent
	winnerName := incumbent.Name
	if chalFitness > incFitness {
		winnerName = challenger.Name
		loserEntry = incumbent
	} else {
		loserEntry = challenger
	}
	loserEntry.Status = store.SkillDeprecated
	if err := e.store.UpsertSkill(ctx, *loserEntry); err != nil {
		return "", "", false, err
	}
	return winnerName, loserEntry.Name, true, nil
}

// StartSkillExperiment begins a statistical-significance strategy
// experiment between two skill names sharing task_type, distinct from
// StartABTest's fitness-weighted comparison. Only one experiment may run
// per task_type at a time; starting a new one replaces the prior
// mapping (the prior Experiment itself is left running and retrievable
// through Experiments.Get, just no longer fed by RecordOutcome).
func (e *Engine) StartSkillExperiment(taskType, hypothesis, skillA, skillB, metric string, minSamples int) *Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	if minSamples > 0 {
		e.Experiments.SetMinSamples(minSamples)
	}
	exp := e.Experiments.StartExperiment(hypothesis, skillA, skillB, metric)
	e.experimentsByTaskType[taskType] = exp.ID
	return exp
}

// recordExperimentSample feeds a task outcome into the task_type's
// active skill experiment, if any, and deprecates the losing skill once
// the experiment concludes with a decisive winner.
func (e *Engine) recordExperimentSample(ctx context.Context, o TaskOutcome) error {
	e.mu.Lock()
	expID, ok := e.experimentsByTaskType[o.TaskType]
	e.mu.Unlock()
	if !ok {
		return nil
	}

	if err := e.Experiments.RecordSample(expID, o.ExperimentVariant, o.MetricValue); err != nil {
		return err
	}
	concluded, err := e.Experiments.Evaluate(expID)
	if err != nil || !concluded {
		return err
	}

	exp := e.Experiments.Get(expID)
	if exp == nil || exp.Winner == "" || exp.Winner == "inconclusive" {
		return nil
	}
	loserName := exp.VariantB
	if exp.Winner == "B" {
		loserName = exp.VariantA
	}
	loserEntry, err := e.findSkill(ctx, o.TaskType, loserName)
	if err != nil || loserEntry == nil {
		return err
	}
	loserEntry.Status = store.SkillDeprecated
	return e.store.UpsertSkill(ctx, *loserEntry)
}
