package future

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S6 — Future andThen chaining.
func TestPendingFuture_AndThenAndHandleChaining(t *testing.T) {
	f := New[string]()
	var observed1, observed2 string

	f2 := f.AndThen(func(v string, err error) {
		observed1 = v
	})
	f.Handle(func(v string, err error) {
		observed2 = v
	})

	require.NoError(t, f.Complete("X"))

	assert.Equal(t, "X", observed1)
	assert.Equal(t, "X", observed2)
	assert.Equal(t, Completed, f2.State())
	v, err := f2.GetResult()
	require.NoError(t, err)
	assert.Equal(t, "X", v)
}

func TestPendingFuture_HandleAfterTerminalInvokesSynchronously(t *testing.T) {
	f := New[int]()
	require.NoError(t, f.Complete(7))

	var got int
	f.Handle(func(v int, err error) {
		got = v
	})
	assert.Equal(t, 7, got)
}

func TestPendingFuture_DoubleCompleteIsStateError(t *testing.T) {
	f := New[int]()
	require.NoError(t, f.Complete(1))
	err := f.Complete(2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already resolved")
}

func TestPendingFuture_ReentrantRegistrationFiresImmediately(t *testing.T) {
	f := New[int]()
	var order []string
	f.Handle(func(v int, err error) {
		order = append(order, "first")
		f.Handle(func(v int, err error) {
			order = append(order, "nested")
		})
		order = append(order, "first-continued")
	})
	require.NoError(t, f.Complete(1))
	assert.Equal(t, []string{"first", "nested", "first-continued"}, order)
}

func TestPendingFuture_HandlersFireInRegistrationOrder(t *testing.T) {
	f := New[int]()
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		f.Handle(func(v int, err error) { order = append(order, i) })
	}
	require.NoError(t, f.Complete(0))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestPendingFuture_AndThenFailurePropagates(t *testing.T) {
	f := New[int]()
	boom := errors.New("boom")
	f2 := f.AndThen(func(v int, err error) {
		panic(boom)
	})
	require.NoError(t, f.Complete(1))
	assert.Equal(t, Failed, f2.State())
	err := f2.GetException()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestPendingFuture_FailPath(t *testing.T) {
	f := New[int]()
	cause := errors.New("network down")
	require.NoError(t, f.Fail(cause))
	_, err := f.GetResult()
	require.Error(t, err)
	got := f.GetException()
	assert.ErrorIs(t, got, cause)
}

// S5 — Waiting list timeout.
type recordingCallback struct {
	responses []any
	errs      []error
}

func (c *recordingCallback) OnResponse(response any, from string) bool {
	c.responses = append(c.responses, response)
	return true
}
func (c *recordingCallback) OnError(err error) { c.errs = append(c.errs, err) }

func TestWaitingList_TimeoutFiresAndRemoves(t *testing.T) {
	wl := NewWaitingList(5)
	cb := &recordingCallback{}
	require.NoError(t, wl.Add("cid-1", cb, 0))
	assert.Equal(t, 1, wl.Len())

	for tick := uint64(1); tick < 5; tick++ {
		wl.Tick(tick)
		assert.Equal(t, 1, wl.Len(), "tick %d", tick)
		assert.Empty(t, cb.errs)
	}

	wl.Tick(6)
	assert.Equal(t, 0, wl.Len())
	require.Len(t, cb.errs, 1)
	assert.ErrorContains(t, cb.errs[0], "timeout")
}

func TestWaitingList_DuplicateCorrelationIDRejected(t *testing.T) {
	wl := NewWaitingList(5)
	cb := &recordingCallback{}
	require.NoError(t, wl.Add("cid-1", cb, 0))
	err := wl.Add("cid-1", cb, 0)
	require.Error(t, err)
}

func TestWaitingList_ResponseRemovesWhenDone(t *testing.T) {
	wl := NewWaitingList(5)
	cb := &recordingCallback{}
	require.NoError(t, wl.Add("cid-1", cb, 0))
	wl.HandleResponse("cid-1", "reply", "peerA")
	assert.Equal(t, 0, wl.Len())
	require.Len(t, cb.responses, 1)
	assert.Equal(t, "reply", cb.responses[0])
}
