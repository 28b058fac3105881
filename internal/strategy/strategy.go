// Package strategy defines the Evaluator contract for signal generation and
// provides a Registry for managing the built-in evaluator implementations.
package strategy

import (
	"sort"

	"callisto/internal/domain"
)

// Evaluator is the interface all signal evaluators implement. Evaluate is
// called once per bar with the indicator-augmented history up to and
// including index i; it returns a proposal or nil.
//
// Evaluators must be side-effect-free and must not read beyond index i: only
// the current and immediately preceding frame, plus rolling windows already
// embedded in the frames, may inform the decision.
type Evaluator interface {
	// Name returns the unique identifier for this evaluator.
	Name() string

	// Evaluate inspects frames[:i+1] and optionally proposes a trade for the
	// bar at index i. A nil return means no signal.
	Evaluate(frames []domain.IndicatorBar, i int) *domain.SignalProposal
}

// Registry holds a named collection of evaluators for lookup and enumeration.
type Registry struct {
	evaluators map[string]Evaluator
}

// NewRegistry creates an empty evaluator Registry.
func NewRegistry() *Registry {
	return &Registry{
		evaluators: make(map[string]Evaluator),
	}
}

// Register adds an evaluator to the registry, keyed by its Name().
func (r *Registry) Register(e Evaluator) {
	r.evaluators[e.Name()] = e
}

// Get retrieves an evaluator by name. The second return value indicates
// whether the evaluator was found.
func (r *Registry) Get(name string) (Evaluator, bool) {
	e, ok := r.evaluators[name]
	return e, ok
}

// List returns a sorted slice of all registered evaluator names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.evaluators))
	for name := range r.evaluators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
