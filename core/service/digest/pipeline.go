// Package digest implements the seven-stage digest pipeline: temporal
// extraction, intrinsic section assignment, time decay, entity extraction,
// enrichment, synthesis, and validation, run as a validated DAG.
package digest

import (
	"context"
	"fmt"
	"time"

	"mailsense/core/domain"
	"mailsense/pkg/apperr"
)

// Key names a slot in the digest context. Stages declare which keys they
// read and write; undeclared access is a contract violation.
type Key string

const (
	KeyMessages     Key = "messages"      // []domain.ClassifiedEmail
	KeyTemporal     Key = "temporal"      // map[string]*domain.TemporalContext
	KeyT0Sections   Key = "t0_sections"   // map[string]domain.DigestSection
	KeyT1Sections   Key = "t1_sections"   // map[string]domain.DigestSection
	KeyEntities     Key = "entities"      // []domain.Entity
	KeySectionIndex Key = "section_index" // map[domain.DigestSection][]int
	KeyGreeting     Key = "greeting"      // string
	KeyHTML         Key = "html"          // string
)

// Stage is one pipeline node. Run receives a view of the context restricted
// to the declared inputs and outputs.
type Stage struct {
	Name      string
	DependsOn []string
	Inputs    []Key
	Outputs   []Key
	Run       func(ctx context.Context, sc *StageContext) error
}

// Pipeline is a validated DAG of stages in a stable topological order.
type Pipeline struct {
	stages []*Stage // execution order
}

// NewPipeline validates the stage graph at construction: unique names,
// every dependency exists, no cycles. The topological order is stable:
// declaration order is preserved among independent stages.
func NewPipeline(stages []*Stage) (*Pipeline, error) {
	byName := make(map[string]*Stage, len(stages))
	for _, s := range stages {
		if s.Name == "" {
			return nil, fmt.Errorf("pipeline: stage with empty name")
		}
		if _, dup := byName[s.Name]; dup {
			return nil, fmt.Errorf("pipeline: duplicate stage %q", s.Name)
		}
		byName[s.Name] = s
	}
	for _, s := range stages {
		for _, dep := range s.DependsOn {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("pipeline: stage %q depends on unknown stage %q", s.Name, dep)
			}
		}
	}

	// Kahn's algorithm, scanning in declaration order so ties resolve the
	// same way on every run.
	indegree := make(map[string]int, len(stages))
	for _, s := range stages {
		indegree[s.Name] = len(s.DependsOn)
	}
	var order []*Stage
	done := make(map[string]bool, len(stages))
	for len(order) < len(stages) {
		progressed := false
		for _, s := range stages {
			if done[s.Name] || indegree[s.Name] != 0 {
				continue
			}
			order = append(order, s)
			done[s.Name] = true
			for _, t := range stages {
				for _, dep := range t.DependsOn {
					if dep == s.Name {
						indegree[t.Name]--
					}
				}
			}
			progressed = true
		}
		if !progressed {
			return nil, fmt.Errorf("pipeline: dependency cycle among stages")
		}
	}
	return &Pipeline{stages: order}, nil
}

// StageOrder returns stage names in execution order, for audit timings.
func (p *Pipeline) StageOrder() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return names
}

// RunContext is the shared state one digest run threads through the DAG.
// The pipeline is single-threaded within a session; no locking.
type RunContext struct {
	Now      time.Time
	Location *time.Location

	values   map[Key]any
	timings  map[string]int64
	warnings []string
}

func NewRunContext(now time.Time, loc *time.Location, messages []domain.ClassifiedEmail) *RunContext {
	if loc == nil {
		loc = time.UTC
	}
	return &RunContext{
		Now:      now,
		Location: loc,
		values:   map[Key]any{KeyMessages: messages},
		timings:  make(map[string]int64),
	}
}

func (rc *RunContext) Warnings() []string             { return rc.warnings }
func (rc *RunContext) StageTimings() map[string]int64 { return rc.timings }

// value reads a key without access control, for the service after the run.
func (rc *RunContext) value(key Key) any { return rc.values[key] }

// StageContext is a stage's restricted view of the run context.
type StageContext struct {
	run     *RunContext
	stage   *Stage
	inputs  map[Key]bool
	outputs map[Key]bool
}

// Get reads a declared input. Reading outside the declaration fails the run
// with a ContractViolation.
func (sc *StageContext) Get(key Key) (any, error) {
	if !sc.inputs[key] {
		return nil, apperr.Contract(sc.stage.Name, fmt.Sprintf("read of undeclared input %q", key))
	}
	return sc.run.values[key], nil
}

// Set writes a declared output.
func (sc *StageContext) Set(key Key, value any) error {
	if !sc.outputs[key] {
		return apperr.Contract(sc.stage.Name, fmt.Sprintf("write of undeclared output %q", key))
	}
	sc.run.values[key] = value
	return nil
}

// Now returns the run's evaluation time. Only the decay and enrichment
// stages should need it.
func (sc *StageContext) Now() time.Time { return sc.run.Now }

// Location returns the user's timezone for display formatting.
func (sc *StageContext) Location() *time.Location { return sc.run.Location }

// Warn records a non-fatal stage problem surfaced in the digest response.
func (sc *StageContext) Warn(format string, args ...any) {
	sc.run.warnings = append(sc.run.warnings, fmt.Sprintf("%s: %s", sc.stage.Name, fmt.Sprintf(format, args...)))
}

// Execute runs the stages in order. A ContractViolation aborts immediately;
// any other stage error is recorded as a warning and the run continues with
// whatever the stage managed to write.
func (p *Pipeline) Execute(ctx context.Context, rc *RunContext) error {
	for _, s := range p.stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		sc := &StageContext{
			run:     rc,
			stage:   s,
			inputs:  keySet(s.Inputs),
			outputs: keySet(s.Outputs),
		}
		started := time.Now()
		err := s.Run(ctx, sc)
		rc.timings[s.Name] = time.Since(started).Milliseconds()
		if err != nil {
			if apperr.IsKind(err, apperr.KindContract) {
				return err
			}
			sc.Warn("%v", err)
		}
	}
	return nil
}

func keySet(keys []Key) map[Key]bool {
	m := make(map[Key]bool, len(keys))
	for _, k := range keys {
		m[k] = true
	}
	return m
}
