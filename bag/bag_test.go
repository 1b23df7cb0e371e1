package bag

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
)

type testItem struct {
	id     int
	state  atomic.Int32
	owners atomic.Int32
}

func (t *testItem) State() *atomic.Int32 { return &t.state }

type countListener struct {
	needed atomic.Int32
}

func (l *countListener) ItemNeeded() { l.needed.Add(1) }

func TestAddBorrowRequite(t *testing.T) {
	b := New[*testItem](nil)
	it := &testItem{id: 1}
	assert.NoError(t, b.Add(it))

	got, err := b.Borrow(context.Background(), time.Second)
	assert.NoError(t, err)
	assert.True(t, got == it)
	assert.Equal(t, StateInUse, got.State().Load())
	assert.Equal(t, 1, b.Count(StateInUse))
	assert.Equal(t, 0, b.Count(StateNotInUse))

	b.Requite(got)
	assert.Equal(t, StateNotInUse, got.State().Load())

	// The requited item comes back on the fast path.
	got2, err := b.Borrow(context.Background(), time.Second)
	assert.NoError(t, err)
	assert.True(t, got2 == it)
}

func TestBorrowTimeout(t *testing.T) {
	b := New[*testItem](nil)

	start := time.Now()
	_, err := b.Borrow(context.Background(), 100*time.Millisecond)
	elapsed := time.Since(start)

	assert.IsError(t, err, ErrTimeout)
	assert.True(t, elapsed >= 100*time.Millisecond)
	assert.True(t, elapsed < time.Second)
	assert.Equal(t, 0, b.Pending())
}

func TestBorrowContextCancel(t *testing.T) {
	b := New[*testItem](nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := b.Borrow(ctx, 5*time.Second)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	err := <-done
	assert.IsError(t, err, context.Canceled)
}

func TestAddHandsOffToWaiter(t *testing.T) {
	b := New[*testItem](nil)

	got := make(chan *testItem, 1)
	go func() {
		it, err := b.Borrow(context.Background(), 5*time.Second)
		if err == nil {
			got <- it
		}
	}()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, b.Pending())

	it := &testItem{id: 7}
	assert.NoError(t, b.Add(it))

	select {
	case r := <-got:
		assert.True(t, r == it)
		assert.Equal(t, StateInUse, r.State().Load())
	case <-time.After(time.Second):
		t.Fatal("waiter did not receive added item")
	}
}

func TestRequiteHandsOffToWaiter(t *testing.T) {
	b := New[*testItem](nil)
	it := &testItem{id: 3}
	assert.NoError(t, b.Add(it))

	first, err := b.Borrow(context.Background(), time.Second)
	assert.NoError(t, err)

	got := make(chan *testItem, 1)
	go func() {
		r, err := b.Borrow(context.Background(), 5*time.Second)
		if err == nil {
			got <- r
		}
	}()

	time.Sleep(50 * time.Millisecond)
	b.Requite(first)

	select {
	case r := <-got:
		assert.True(t, r == it)
		assert.Equal(t, StateInUse, r.State().Load())
	case <-time.After(time.Second):
		t.Fatal("waiter did not receive requited item")
	}
}

func TestListenerSignaledWhenDry(t *testing.T) {
	l := &countListener{}
	b := New[*testItem](l)

	_, err := b.Borrow(context.Background(), 20*time.Millisecond)
	assert.IsError(t, err, ErrTimeout)
	assert.True(t, l.needed.Load() >= 1)
}

func TestReserveRemove(t *testing.T) {
	b := New[*testItem](nil)
	it := &testItem{id: 9}
	assert.NoError(t, b.Add(it))

	assert.True(t, b.Reserve(it))
	assert.False(t, b.Reserve(it))
	assert.Equal(t, 1, b.Count(StateReserved))

	assert.True(t, b.Remove(it))
	assert.Equal(t, StateRemoved, it.State().Load())
	assert.Equal(t, 0, b.Size())
}

func TestRemoveRequiresExclusiveHold(t *testing.T) {
	b := New[*testItem](nil)
	it := &testItem{id: 4}
	assert.NoError(t, b.Add(it))

	// Not held by anyone: remove must refuse.
	assert.False(t, b.Remove(it))
	assert.Equal(t, 1, b.Size())

	got, err := b.Borrow(context.Background(), time.Second)
	assert.NoError(t, err)
	assert.True(t, b.Remove(got))
	assert.Equal(t, 0, b.Size())
}

func TestRemovedItemNeverRevivedFromCache(t *testing.T) {
	b := New[*testItem](nil)
	it := &testItem{id: 5}
	assert.NoError(t, b.Add(it))

	got, err := b.Borrow(context.Background(), time.Second)
	assert.NoError(t, err)
	b.Requite(got) // lands in the recent-return cache

	assert.True(t, b.Reserve(it))
	assert.True(t, b.Remove(it))

	// The cached pointer must not resurrect; the bag is empty now.
	_, err = b.Borrow(context.Background(), 50*time.Millisecond)
	assert.IsError(t, err, ErrTimeout)
}

func TestValuesAndCounts(t *testing.T) {
	b := New[*testItem](nil)
	a := &testItem{id: 1}
	c := &testItem{id: 2}
	assert.NoError(t, b.Add(a))
	assert.NoError(t, b.Add(c))

	_, err := b.Borrow(context.Background(), time.Second)
	assert.NoError(t, err)

	assert.Equal(t, 2, b.Size())
	assert.Equal(t, 1, b.Count(StateInUse))
	assert.Equal(t, 1, b.Count(StateNotInUse))
	assert.Equal(t, 2, len(b.Values()))
	assert.Equal(t, 1, len(b.ValuesIn(StateNotInUse)))
}

func TestCloseReleasesWaiters(t *testing.T) {
	b := New[*testItem](nil)

	done := make(chan error, 1)
	go func() {
		_, err := b.Borrow(context.Background(), 5*time.Second)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	b.Close()

	select {
	case err := <-done:
		assert.IsError(t, err, ErrBagClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter not released by close")
	}

	_, err := b.Borrow(context.Background(), time.Second)
	assert.IsError(t, err, ErrBagClosed)
	assert.IsError(t, b.Add(&testItem{}), ErrBagClosed)
}

// TestExclusivityUnderLoad hammers a small bag from many goroutines and
// asserts that no item is ever held by two borrowers at once.
func TestExclusivityUnderLoad(t *testing.T) {
	b := New[*testItem](nil)
	for i := 0; i < 4; i++ {
		assert.NoError(t, b.Add(&testItem{id: i}))
	}

	var violations atomic.Int32
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 300; i++ {
				it, err := b.Borrow(context.Background(), 2*time.Second)
				if errors.Is(err, ErrTimeout) {
					continue
				}
				if err != nil {
					return
				}
				if it.owners.Add(1) != 1 {
					violations.Add(1)
				}
				it.owners.Add(-1)
				b.Requite(it)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(0), violations.Load())
	assert.Equal(t, 4, b.Count(StateNotInUse))
	assert.Equal(t, 0, b.Pending())
}
