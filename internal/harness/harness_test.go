package harness

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cartsync/internal/backend"
	"github.com/roach88/cartsync/internal/cart"
	"github.com/roach88/cartsync/internal/engine"
	"github.com/roach88/cartsync/internal/store"
)

func loadScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func intPtr(n int) *int    { return &n }
func boolPtr(b bool) *bool { return &b }

func TestScenarios_Golden(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		s, err := LoadScenario(path)
		require.NoError(t, err, path)

		t.Run(s.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
		})
	}
}

func TestRun_ConvergesWhateverTheArrivalOrder(t *testing.T) {
	late := loadScenario(t, "reorder_late_first")
	inOrder := loadScenario(t, "reorder_in_order")

	r1, err := Run(context.Background(), late)
	require.NoError(t, err)
	r2, err := Run(context.Background(), inOrder)
	require.NoError(t, err)

	require.True(t, r1.Pass, r1.Errors)
	require.True(t, r2.Pass, r2.Errors)
	assert.NotEmpty(t, r1.SnapshotHash)
	assert.Equal(t, r1.SnapshotHash, r2.SnapshotHash)
}

func TestRun_RemoveAndZeroUpdateAreEquivalent(t *testing.T) {
	scenario := func(action cart.Kind, payload map[string]any) *Scenario {
		return &Scenario{
			Name:        "equivalence",
			Description: "remove vs zero",
			Catalog:     filepath.Join("testdata", "catalog.cue"),
			Setup: []MutationSpec{{
				Action:  cart.KindLinesAdd,
				Payload: map[string]any{"lines": []any{map[string]any{"merchandiseId": "A", "quantity": 2}}},
			}},
			Steps: []Step{
				{Submit: &SubmitStep{As: "m", MutationSpec: MutationSpec{Action: action, Payload: payload}}},
				{Expect: &Expect{Empty: boolPtr(true), NoLines: true}},
				{Deliver: "m"},
			},
			Final: &Expect{TotalQuantity: intPtr(0), Converged: true},
		}
	}

	removed, err := Run(context.Background(), scenario(cart.KindLinesRemove,
		map[string]any{"lineIds": []any{"line-1"}}))
	require.NoError(t, err)
	zeroed, err := Run(context.Background(), scenario(cart.KindLinesUpdate,
		map[string]any{"lines": []any{map[string]any{"id": "line-1", "quantity": 0}}}))
	require.NoError(t, err)

	require.True(t, removed.Pass, removed.Errors)
	require.True(t, zeroed.Pass, zeroed.Errors)
	assert.Equal(t, removed.SnapshotHash, zeroed.SnapshotHash)
}

func TestRun_ReportsFailedExpectations(t *testing.T) {
	s := loadScenario(t, "add_to_empty_cart")
	s.Final = &Expect{
		TotalQuantity: intPtr(5),
		Lines:         []ExpectLine{{MerchandiseID: "B", Quantity: 1}},
		Status:        map[string]string{"a1": "failed"},
	}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	joined := strings.Join(result.Errors, "\n")
	assert.Contains(t, joined, "final: totalQuantity: expected 5, got 1")
	assert.Contains(t, joined, "final: lines: expected B=1, got A=1")
	assert.Contains(t, joined, "final: status[a1]: expected failed, got succeeded")
}

func submitStep(as string, action cart.Kind, payload map[string]any) Step {
	return Step{Submit: &SubmitStep{As: as, MutationSpec: MutationSpec{Action: action, Payload: payload}}}
}

func TestRun_LostResponses(t *testing.T) {
	update := map[string]any{"lines": []any{map[string]any{"id": "line-1", "quantity": 4}}}
	discount := map[string]any{"discountCodes": []any{"SAVE10"}}
	unknownLine := map[string]any{"lines": []any{map[string]any{"id": "line-99", "quantity": 1}}}

	newScenario := func(steps ...Step) *Scenario {
		return &Scenario{
			Name:        "lost_response",
			Description: "responses lost in transport",
			Catalog:     filepath.Join("testdata", "catalog.cue"),
			Setup: []MutationSpec{{
				Action:  cart.KindLinesAdd,
				Payload: map[string]any{"lines": []any{map[string]any{"merchandiseId": "A", "quantity": 1}}},
			}},
			Steps: steps,
			Final: &Expect{Converged: true},
		}
	}

	t.Run("later success covers the lost one", func(t *testing.T) {
		result, err := Run(context.Background(), newScenario(
			submitStep("u1", cart.KindLinesUpdate, update),
			submitStep("u2", cart.KindDiscountCodesUpdate, discount),
			Step{Deliver: "u2"},
			Step{Fail: "u1"},
			Step{Expect: &Expect{TotalQuantity: intPtr(4), ApplicableDiscount: boolPtr(true)}},
		))
		require.NoError(t, err)
		assert.True(t, result.Pass, result.Errors)
	})

	t.Run("applied but lost diverges", func(t *testing.T) {
		result, err := Run(context.Background(), newScenario(
			submitStep("u1", cart.KindLinesUpdate, update),
			submitStep("u2", cart.KindDiscountCodesUpdate, discount),
			submitStep("x1", cart.KindLinesUpdate, unknownLine),
			Step{Deliver: "x1"},
			Step{Fail: "u2"},
			Step{Deliver: "u1"},
		))
		require.NoError(t, err)
		assert.False(t, result.Pass)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], "final: converged: expected true, got snapshot")
	})
}

func TestRun_InvariantsCheckedAfterEveryStep(t *testing.T) {
	s := loadScenario(t, "failure_isolation")
	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	require.True(t, result.Pass, result.Errors)

	for _, ev := range result.Trace {
		sum := 0
		for _, l := range ev.Lines {
			_, qty, ok := strings.Cut(strings.TrimSuffix(l, "*"), "=")
			require.True(t, ok, l)
			n, err := strconv.Atoi(qty)
			require.NoError(t, err)
			sum += n
		}
		assert.Equal(t, ev.TotalQuantity, sum, "step %d", ev.Step)
	}
}

func TestRun_CatalogOverride(t *testing.T) {
	s := loadScenario(t, "add_to_empty_cart")
	s.Catalog = filepath.Join("testdata", "missing.cue")

	_, err := Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load catalog")

	c, err := backend.LoadCatalog(filepath.Join("testdata", "catalog.cue"))
	require.NoError(t, err)
	result, err := Run(context.Background(), s, WithCatalog(c))
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestRun_SetupRejected(t *testing.T) {
	s := loadScenario(t, "add_to_empty_cart")
	s.Setup = []MutationSpec{{
		Action:  cart.KindLinesAdd,
		Payload: map[string]any{"lines": []any{map[string]any{"merchandiseId": "nope", "quantity": 1}}},
	}}

	_, err := Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute setup")
}

func TestRun_JournalReplays(t *testing.T) {
	ctx := context.Background()
	db, err := store.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer db.Close()

	for _, name := range []string{"reorder_late_first", "failure_isolation", "lost_request"} {
		j, err := db.Journal(ctx, name)
		require.NoError(t, err)

		result, err := Run(ctx, loadScenario(t, name), WithJournal(j))
		require.NoError(t, err)
		require.True(t, result.Pass, result.Errors)

		replay, err := db.ReplaySession(ctx, name)
		require.NoError(t, err)
		assert.True(t, replay.Match(), "%s: %v", name, replay.Mismatches)
		assert.Equal(t, 0, replay.Unresolved)
		if replay.ExpectedHash != "" {
			assert.Equal(t, result.SnapshotHash, replay.ActualHash)
		}
	}
}

var _ engine.Journal = (*store.Journal)(nil)

type resolutionLog struct {
	resolutions []engine.Resolution
}

func (l *resolutionLog) RecordSubmission(context.Context, engine.PendingMutation) error { return nil }

func (l *resolutionLog) RecordResolution(_ context.Context, r engine.Resolution) error {
	l.resolutions = append(l.resolutions, r)
	return nil
}

func TestRun_BackendOutOfOrder(t *testing.T) {
	log := &resolutionLog{}
	result, err := Run(context.Background(), loadScenario(t, "backend_out_of_order"), WithJournal(log))
	require.NoError(t, err)
	require.True(t, result.Pass, result.Errors)

	require.Len(t, log.resolutions, 2)
	late := log.resolutions[1]
	assert.Equal(t, int64(1), late.Handle.Seq)
	assert.Equal(t, engine.StatusFailed, late.Status)
	require.Len(t, late.Outcome.Errors, 1)
	assert.Equal(t, cart.CodeOutOfOrder, late.Outcome.Errors[0].Code)
	assert.Equal(t, []string{"sequence"}, late.Outcome.Errors[0].Field)
}

func TestRun_ArriveInSeqOrderMatchesDeliver(t *testing.T) {
	s := loadScenario(t, "backend_out_of_order")
	s.Name = "arrive_in_order"
	s.Steps = []Step{
		submitStep("b2", cart.KindLinesAdd, map[string]any{"lines": []any{map[string]any{"merchandiseId": "B", "quantity": 1}}}),
		submitStep("c3", cart.KindLinesAdd, map[string]any{"lines": []any{map[string]any{"merchandiseId": "C", "quantity": 1}}}),
		{Arrive: "b2"},
		{Arrive: "c3"},
		{Deliver: "c3"},
		{Deliver: "b2"},
		{Expect: &Expect{TotalQuantity: intPtr(3), Pending: intPtr(0), Converged: true}},
	}
	s.Final = nil

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	assert.Equal(t, EventArrive, result.Trace[2].Type)
	assert.Empty(t, result.Trace[2].Status)
}
