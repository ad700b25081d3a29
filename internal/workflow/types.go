// Package workflow drives a declarative workflow definition — an ordered
// list of typed steps — from initial input to terminal status, with
// crash-safe checkpointing and retry. Grounded on the teacher's
// internal/pipeline.Pipeline (nil-safe optional-dependency composition,
// stage-by-stage orchestration idiom) and internal/pipeline/dag.go's
// DAGExecutor (dependency-ready concurrent fan-out), generalized from a
// fixed 10-stage LLM pipeline into a generic YAML-defined step executor
// with a bounded worker pool for parallel-for, which the teacher's
// DAGExecutor lacks.
package workflow

import (
	"context"
)

// StepType distinguishes atomic handler dispatch from bounded fan-out.
type StepType string

const (
	StepTypeAtomic      StepType = "atomic"
	StepTypeParallelFor StepType = "parallel-for"
)

// StepDef is one entry in a workflow definition, matching the field set
// named in the external interfaces (id, type, retries, backoff, timeout,
// concurrency, foreach, substep).
type StepDef struct {
	ID          string   `yaml:"id" validate:"required"`
	Type        StepType `yaml:"type" validate:"required,oneof=atomic parallel-for"`
	Handler     string   `yaml:"handler" validate:"required_if=Type atomic"`
	Retries     int      `yaml:"retries"`
	BackoffMs   int      `yaml:"backoff"`
	TimeoutMs   int      `yaml:"timeout"`
	Concurrency int      `yaml:"concurrency"`
	Foreach     string   `yaml:"foreach" validate:"required_if=Type parallel-for"`
	Substep     *StepDef `yaml:"substep" validate:"required_if=Type parallel-for"`
}

// Definition is a full workflow: a name and its ordered step list.
type Definition struct {
	Name  string    `yaml:"name" validate:"required"`
	Steps []StepDef `yaml:"steps" validate:"required,min=1,dive"`
}

// HandlerFunc dispatches one atomic step. It receives the step definition
// and the run's accumulated context, and returns a result map that is
// shallow-merged into the context on success. A result carrying the key
// "fallbackApplied" with value true triggers the quota_fallback audit
// event and context update per the transactional checkpoint contract.
type HandlerFunc func(ctx context.Context, step StepDef, runContext map[string]any) (map[string]any, error)

// ResultKeyFallbackApplied is the handler result key capability
// implementations set to true to trigger the quota_fallback checkpoint
// side effect.
const ResultKeyFallbackApplied = "fallbackApplied"

const contextKeyLastFallback = "last_quota_fallback"

// defaultRetries/defaultBackoffMs/defaultConcurrency mirror spec.md §6 and
// §4.5's stated defaults.
const (
	defaultRetries     = 3
	defaultBackoffMs   = 1000
	defaultConcurrency = 5
)

func (s StepDef) retries() int {
	if s.Retries > 0 {
		return s.Retries
	}
	return defaultRetries
}

func (s StepDef) backoffMs() int {
	if s.BackoffMs > 0 {
		return s.BackoffMs
	}
	return defaultBackoffMs
}

func (s StepDef) concurrency() int {
	if s.Concurrency > 0 {
		return s.Concurrency
	}
	return defaultConcurrency
}
