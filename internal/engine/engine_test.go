package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cartsync/internal/cart"
	"github.com/roach88/cartsync/internal/testutil"
)

const waitTimeout = 2 * time.Second

// startEngine runs the engine loop for the duration of the test.
func startEngine(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitTask(t *testing.T, task *Task) cart.Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	out, err := task.Wait(ctx)
	require.NoError(t, err)
	return out
}

type recordingJournal struct {
	mu          sync.Mutex
	submissions []PendingMutation
	resolutions []Resolution
}

func (j *recordingJournal) RecordSubmission(_ context.Context, p PendingMutation) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.submissions = append(j.submissions, p)
	return nil
}

func (j *recordingJournal) RecordResolution(_ context.Context, r Resolution) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.resolutions = append(j.resolutions, r)
	return nil
}

type staticFetcher struct {
	cart *cart.Cart
	err  error
}

func (f staticFetcher) Fetch(context.Context, string) (*cart.Cart, error) {
	return f.cart, f.err
}

func TestEngine_SubmitIsOptimisticAndResolves(t *testing.T) {
	backend := testutil.NewManualBackend()
	e := New(newTestStore(), backend)
	startEngine(t, e)

	task, err := e.Submit(context.Background(), cart.LinesAdd{Lines: []cart.MerchandiseLine{{MerchandiseID: "A", Quantity: 1}}})
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitting, task.Status())
	_, ok := task.Outcome()
	assert.False(t, ok)

	v := e.View()
	require.Len(t, v.Cart.Lines, 1)
	assert.True(t, v.Cart.Lines[0].IsOptimistic)

	require.NoError(t, backend.WaitForRequests(1, waitTimeout))
	req := backend.Requests()[0]
	assert.Equal(t, cart.KindLinesAdd, req.Action)
	assert.Equal(t, "", req.CartID)
	assert.Equal(t, int64(1), req.Sequence)

	require.NoError(t, backend.Respond(1, cart.Success(oneLine("gid-1", "A", 1))))
	out := waitTask(t, task)
	assert.True(t, out.OK())
	assert.Equal(t, StatusSucceeded, task.Status())

	v = e.View()
	assert.False(t, v.Cart.Lines[0].IsOptimistic)
	assert.Equal(t, 1, v.TotalQuantity())
	assert.Equal(t, "cart-1", e.CartID())
}

func TestEngine_ConvergesWhenResponsesReorder(t *testing.T) {
	backend := testutil.NewManualBackend()
	e := New(newTestStore(WithSnapshot(oneLine("L", "A", 1))), backend)
	startEngine(t, e)
	ctx := context.Background()

	t1, err := e.Submit(ctx, cart.LinesUpdate{Lines: []cart.LineQuantity{{ID: "L", Quantity: 2}}})
	require.NoError(t, err)
	t2, err := e.Submit(ctx, cart.LinesUpdate{Lines: []cart.LineQuantity{{ID: "L", Quantity: 3}}})
	require.NoError(t, err)
	require.NoError(t, backend.WaitForRequests(2, waitTimeout))

	for _, r := range backend.Requests() {
		assert.Equal(t, "cart-1", r.CartID, "sends use the known cart id")
	}

	require.NoError(t, backend.Respond(2, cart.Success(oneLine("L", "A", 3))))
	waitTask(t, t2)
	assert.Equal(t, 3, e.View().Cart.Lines[0].Quantity)

	require.NoError(t, backend.Respond(1, cart.Success(oneLine("L", "A", 2))))
	waitTask(t, t1)
	assert.True(t, t1.Stale())

	v := e.View()
	assert.Equal(t, 3, v.Cart.Lines[0].Quantity)
	assert.Equal(t, 3, v.TotalQuantity())
	assert.Equal(t, 0, v.PendingCount)
}

func TestEngine_TransportFailureReverts(t *testing.T) {
	backend := testutil.NewManualBackend()
	e := New(newTestStore(WithSnapshot(oneLine("L", "A", 1))), backend)
	startEngine(t, e)

	task, err := e.Submit(context.Background(), cart.LinesUpdate{Lines: []cart.LineQuantity{{ID: "L", Quantity: 9}}})
	require.NoError(t, err)
	assert.Equal(t, 9, e.View().TotalQuantity())

	require.NoError(t, backend.WaitForRequests(1, waitTimeout))
	require.NoError(t, backend.Fail(1, errors.New("connection refused")))

	out := waitTask(t, task)
	assert.Equal(t, StatusFailed, task.Status())
	assert.True(t, out.Errors.HasCode(cart.CodeTransport))
	assert.Equal(t, 1, e.View().TotalQuantity())
}

func TestEngine_RejectedMutationReverts(t *testing.T) {
	backend := testutil.NewManualBackend()
	e := New(newTestStore(WithSnapshot(oneLine("L", "A", 1))), backend)
	startEngine(t, e)

	task, err := e.Submit(context.Background(), cart.LinesRemove{LineIDs: []string{"L"}})
	require.NoError(t, err)
	assert.True(t, e.View().IsEmpty())

	require.NoError(t, backend.WaitForRequests(1, waitTimeout))
	require.NoError(t, backend.Respond(1, cart.Failure(cart.FieldError{Field: []string{"lineIds", "0"}, Message: "locked", Code: cart.CodeInvalid})))

	waitTask(t, task)
	assert.Equal(t, StatusFailed, task.Status())
	assert.False(t, e.View().IsEmpty())
}

func TestEngine_CartCreationGate(t *testing.T) {
	backend := testutil.NewManualBackend()
	e := New(newTestStore(), backend)
	startEngine(t, e)
	ctx := context.Background()

	t1, err := e.Submit(ctx, cart.LinesAdd{Lines: []cart.MerchandiseLine{{MerchandiseID: "A", Quantity: 1}}})
	require.NoError(t, err)
	t2, err := e.Submit(ctx, cart.LinesAdd{Lines: []cart.MerchandiseLine{{MerchandiseID: "B", Quantity: 1}}})
	require.NoError(t, err)

	// Both are visible immediately even though only one is sent.
	assert.Equal(t, 2, e.View().TotalQuantity())
	require.NoError(t, backend.WaitForRequests(1, waitTimeout))
	time.Sleep(20 * time.Millisecond)
	require.Len(t, backend.Requests(), 1, "second send waits for the cart id")
	first := backend.Requests()[0]
	assert.Equal(t, "", first.CartID)

	created := &cart.Cart{ID: "cart-9", Lines: []cart.Line{{ID: "l1", MerchandiseID: "A", Quantity: 1}}}
	require.NoError(t, backend.Respond(first.Sequence, cart.Success(created)))

	require.NoError(t, backend.WaitForRequests(2, waitTimeout))
	second := backend.Requests()[1]
	assert.Equal(t, "cart-9", second.CartID)

	created2 := created.Clone()
	created2.Lines = append(created2.Lines, cart.Line{ID: "l2", MerchandiseID: "B", Quantity: 1})
	require.NoError(t, backend.Respond(second.Sequence, cart.Success(created2)))

	waitTask(t, t1)
	waitTask(t, t2)
	v := e.View()
	assert.Equal(t, 2, v.TotalQuantity())
	assert.Equal(t, 0, v.PendingCount)
}

func TestEngine_FailedCreatorHandsOver(t *testing.T) {
	backend := testutil.NewManualBackend()
	e := New(newTestStore(), backend)
	startEngine(t, e)
	ctx := context.Background()

	t1, _ := e.Submit(ctx, cart.LinesAdd{Lines: []cart.MerchandiseLine{{MerchandiseID: "A", Quantity: 1}}})
	t2, _ := e.Submit(ctx, cart.LinesAdd{Lines: []cart.MerchandiseLine{{MerchandiseID: "B", Quantity: 1}}})

	require.NoError(t, backend.WaitForRequests(1, waitTimeout))
	first := backend.Requests()[0]
	require.NoError(t, backend.Fail(first.Sequence, errors.New("timeout")))

	require.NoError(t, backend.WaitForRequests(2, waitTimeout))
	second := backend.Requests()[1]
	assert.Equal(t, "", second.CartID, "next waiter creates the cart")
	require.NoError(t, backend.Respond(second.Sequence, cart.Success(oneLine("l1", "B", 1))))

	waitTask(t, t1)
	waitTask(t, t2)
	assert.Equal(t, "cart-1", e.CartID())
	assert.Equal(t, 1, e.View().TotalQuantity())
}

func TestEngine_Journal(t *testing.T) {
	backend := testutil.NewManualBackend()
	j := &recordingJournal{}
	e := New(newTestStore(WithSnapshot(oneLine("L", "A", 1))), backend, WithJournal(j))
	startEngine(t, e)

	task, err := e.Submit(context.Background(), cart.LinesRemove{LineIDs: []string{"L"}})
	require.NoError(t, err)
	require.NoError(t, backend.WaitForRequests(1, waitTimeout))
	require.NoError(t, backend.Respond(1, cart.Success(&cart.Cart{ID: "cart-1"})))
	waitTask(t, task)

	j.mu.Lock()
	defer j.mu.Unlock()
	require.Len(t, j.submissions, 1)
	assert.Equal(t, cart.KindLinesRemove, j.submissions[0].Kind)
	require.Len(t, j.resolutions, 1)
	assert.Equal(t, StatusSucceeded, j.resolutions[0].Status)
	assert.Equal(t, int64(1), j.resolutions[0].ConfirmedSeq)
}

func TestEngine_InvalidMutationNotSent(t *testing.T) {
	backend := testutil.NewManualBackend()
	e := New(newTestStore(), backend)

	_, err := e.Submit(context.Background(), cart.LinesUpdate{})
	assert.True(t, IsInvalidMutation(err))
	assert.Empty(t, backend.Requests())
}

func TestEngine_Hydrate(t *testing.T) {
	backend := testutil.NewManualBackend()
	e := New(newTestStore(), backend, WithFetcher(staticFetcher{cart: oneLine("L", "A", 4)}))

	require.NoError(t, e.Hydrate(context.Background(), "cart-1"))
	assert.Equal(t, "cart-1", e.CartID())
	assert.Equal(t, 4, e.View().TotalQuantity())

	broken := New(newTestStore(), backend, WithFetcher(staticFetcher{err: errors.New("404")}))
	assert.ErrorContains(t, broken.Hydrate(context.Background(), "x"), "404")

	none := New(newTestStore(), backend)
	err := none.Hydrate(context.Background(), "x")
	var re *RuntimeError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ErrCodeNoFetcher, re.Code)
}

func TestEngine_ResolvesAfterStop(t *testing.T) {
	backend := testutil.NewManualBackend()
	e := New(newTestStore(WithSnapshot(oneLine("L", "A", 1))), backend)

	task, err := e.Submit(context.Background(), cart.LinesUpdate{Lines: []cart.LineQuantity{{ID: "L", Quantity: 2}}})
	require.NoError(t, err)
	e.Stop()

	require.NoError(t, backend.WaitForRequests(1, waitTimeout))
	require.NoError(t, backend.Respond(1, cart.Success(oneLine("L", "A", 2))))
	waitTask(t, task)
	e.Wait()

	assert.Equal(t, 2, e.View().TotalQuantity())
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	e := New(newTestStore(), testutil.NewManualBackend())
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- e.Run(ctx) }()
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitTimeout):
		t.Fatal("Run did not stop")
	}
}

func TestEngine_RunReturnsAfterStop(t *testing.T) {
	e := New(newTestStore(), testutil.NewManualBackend())

	errc := make(chan error, 1)
	go func() { errc <- e.Run(context.Background()) }()
	e.Stop()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Run did not stop")
	}
}

func TestTask_WaitHonorsContext(t *testing.T) {
	task := newTask(Handle{ID: "m", Seq: 1}, cart.KindLinesAdd)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := task.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusSubmitting, task.Status())
}

func TestTask_FinishOnce(t *testing.T) {
	task := newTask(Handle{ID: "m", Seq: 1}, cart.KindLinesAdd)
	task.finish(Resolution{Status: StatusFailed})
	task.finish(Resolution{Status: StatusSucceeded})

	assert.Equal(t, StatusFailed, task.Status())
	select {
	case <-task.Done():
	default:
		t.Fatal("done not closed")
	}
}
