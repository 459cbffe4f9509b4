package engine_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cartsync/internal/backend"
	"github.com/roach88/cartsync/internal/cart"
	"github.com/roach88/cartsync/internal/engine"
	"github.com/roach88/cartsync/internal/testutil"
)

// heldBackend delays one sequence until released, so the requests after it
// reach the backend first.
type heldBackend struct {
	inner   *backend.Memory
	seq     int64
	release chan struct{}
	entered chan int64
}

func (b *heldBackend) Apply(ctx context.Context, req cart.Request) (cart.Outcome, error) {
	b.entered <- req.Sequence
	if req.Sequence == b.seq {
		<-b.release
	}
	return b.inner.Apply(ctx, req)
}

func newHeldBackend(t *testing.T, hold time.Duration, seq int64) (*heldBackend, *cart.Cart) {
	t.Helper()
	catalog, err := backend.LoadCatalog(filepath.Join("..", "backend", "testdata", "catalog.cue"))
	require.NoError(t, err)

	mem := backend.NewMemory(catalog,
		backend.WithCartIDs(testutil.NewSequentialIDs("cart")),
		backend.WithLineIDs(testutil.NewSequentialIDs("line")),
		backend.WithSequenceHold(hold),
	)
	req, err := cart.NewRequest("", 0, addLine("A", 1))
	require.NoError(t, err)
	out, err := mem.Apply(context.Background(), req)
	require.NoError(t, err)
	require.True(t, out.OK())

	return &heldBackend{
		inner:   mem,
		seq:     seq,
		release: make(chan struct{}),
		entered: make(chan int64, 8),
	}, out.Cart
}

func addLine(merch string, qty int) cart.LinesAdd {
	return cart.LinesAdd{Lines: []cart.MerchandiseLine{{MerchandiseID: merch, Quantity: qty}}}
}

func runEngine(t *testing.T, e *engine.Engine) {
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

func await(t *testing.T, task *engine.Task) cart.Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := task.Wait(ctx)
	require.NoError(t, err)
	return out
}

func awaitEntered(t *testing.T, b *heldBackend, seq int64) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-b.entered:
			if got == seq {
				return
			}
		case <-deadline:
			t.Fatalf("seq %d never reached the backend", seq)
		}
	}
}

// requireMatchesBackend checks the confirmed snapshot against what the
// backend serves for the cart, ignoring the sequence stamp.
func requireMatchesBackend(t *testing.T, b *heldBackend, s *engine.Store) {
	t.Helper()
	served, err := b.inner.Fetch(context.Background(), s.CartID())
	require.NoError(t, err)

	want, err := cart.ContentHash(cart.ConfirmedCopy(served))
	require.NoError(t, err)
	got, err := cart.ContentHash(s.Confirmed())
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, served.TotalQuantity, s.View().TotalQuantity())
}

func TestEngine_LateLowerSequenceIsRejectedByBackend(t *testing.T) {
	b, initial := newHeldBackend(t, 0, 1)
	store := engine.NewStore(engine.WithSnapshot(initial))
	e := engine.New(store, b)
	runEngine(t, e)

	first, err := e.Submit(context.Background(), addLine("B", 1))
	require.NoError(t, err)
	awaitEntered(t, b, 1)

	second, err := e.Submit(context.Background(), addLine("C", 1))
	require.NoError(t, err)
	out := await(t, second)
	require.True(t, out.OK())
	assert.Equal(t, int64(2), out.Cart.Sequence)

	// B is still in flight but already behind the confirmed stamp.
	v := e.View()
	assert.Equal(t, 2, v.TotalQuantity())
	assert.Equal(t, 1, v.PendingCount)
	requireMatchesBackend(t, b, store)

	close(b.release)
	out = await(t, first)
	require.False(t, out.OK())
	require.Len(t, out.Errors, 1)
	assert.Equal(t, cart.CodeOutOfOrder, out.Errors[0].Code)
	assert.Equal(t, engine.StatusFailed, first.Status())

	assert.Equal(t, 0, e.View().PendingCount)
	requireMatchesBackend(t, b, store)
}

func TestEngine_BackendWaitsForLowerSequence(t *testing.T) {
	b, initial := newHeldBackend(t, 5*time.Second, 1)
	store := engine.NewStore(engine.WithSnapshot(initial))
	e := engine.New(store, b)
	runEngine(t, e)

	first, err := e.Submit(context.Background(), addLine("B", 1))
	require.NoError(t, err)
	awaitEntered(t, b, 1)

	second, err := e.Submit(context.Background(), addLine("C", 1))
	require.NoError(t, err)
	awaitEntered(t, b, 2)

	select {
	case <-second.Done():
		t.Fatal("seq 2 applied before seq 1")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 3, e.View().TotalQuantity())

	close(b.release)
	require.True(t, await(t, first).OK())
	out := await(t, second)
	require.True(t, out.OK())
	assert.Equal(t, int64(2), out.Cart.Sequence)

	v := e.View()
	assert.Equal(t, 0, v.PendingCount)
	assert.Equal(t, 3, v.TotalQuantity())
	assert.Equal(t, int64(2), store.ConfirmedSeq())
	requireMatchesBackend(t, b, store)
}
