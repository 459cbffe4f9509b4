package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/cartsync/internal/cart"
)

// TraceSnapshot is the golden-file form of a scenario run.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenarioName"`
	Trace        []TraceEvent `json:"trace"`
}

// MarshalTrace returns the canonical JSON of a run's trace. The snapshot
// hash is left out; Converged expectations cover the final state.
func MarshalTrace(name string, r *Result) ([]byte, error) {
	trace := r.Trace
	if trace == nil {
		trace = []TraceEvent{}
	}
	return cart.MarshalCanonical(TraceSnapshot{
		ScenarioName: name,
		Trace:        trace,
	})
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, s *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), s, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, s.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's trace against a golden file.
func AssertGolden(t *testing.T, name string, r *Result) error {
	t.Helper()

	data, err := MarshalTrace(name, r)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
