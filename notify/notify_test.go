package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestQueueRunsTasksInOrder(t *testing.T) {
	q := NewQueue(nil)
	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 100; i++ {
		i := i
		q.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	q.Close()
	<-q.Done()

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestQueueSurvivesPanics(t *testing.T) {
	q := NewQueue(nil)
	defer func() {
		q.Close()
		<-q.Done()
	}()

	q.Post(func() { panic("boom") })
	ran := false
	require.True(t, Call(q, func() { ran = true }))
	assert.True(t, ran)
}

func TestCallOnClosedQueue(t *testing.T) {
	q := NewQueue(nil)
	q.Close()
	<-q.Done()
	assert.False(t, Call(q, func() { t.Fatal("ran after close") }))
}

func TestTrampolineDefersNestedPosts(t *testing.T) {
	var tr Trampoline
	var order []string
	tr.Post(func() {
		order = append(order, "outer-start")
		tr.Post(func() { order = append(order, "inner") })
		order = append(order, "outer-end")
	})
	assert.Equal(t, []string{"outer-start", "outer-end", "inner"}, order)
}

func TestCallRunsInlineOnIdleTrampoline(t *testing.T) {
	var tr Trampoline
	ran := false
	require.True(t, Call(&tr, func() { ran = true }))
	assert.True(t, ran)
}

func TestCallWaitsForTrampolineDrain(t *testing.T) {
	var tr Trampoline
	var order []string
	entered := make(chan struct{})
	release := make(chan struct{})
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		tr.Post(func() {
			order = append(order, "outer-start")
			close(entered)
			<-release
			order = append(order, "outer-end")
		})
	}()
	<-entered

	called := make(chan bool, 1)
	go func() { called <- Call(&tr, func() { order = append(order, "call") }) }()
	select {
	case <-called:
		t.Fatal("Call returned while another goroutine was draining")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case ok := <-called:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Call never returned")
	}
	<-drained
	assert.Equal(t, []string{"outer-start", "outer-end", "call"}, order)
}

type recorder struct {
	name string
	log  *[]string
}

func (r recorder) note(msg string) {
	*r.log = append(*r.log, r.name+":"+msg)
}

func TestRegistryDeliversInSubscriptionOrder(t *testing.T) {
	var tr Trampoline
	reg := NewRegistry[recorder](&tr)
	var log []string

	a := reg.Subscribe(recorder{"a", &log})
	reg.Subscribe(recorder{"b", &log})
	assert.Equal(t, 2, reg.Len())
	assert.NotEmpty(t, a.ID())

	reg.Dispatch(func(r recorder) { r.note("joined") })
	a.Cancel()
	a.Cancel()
	reg.Dispatch(func(r recorder) { r.note("quit") })

	assert.Equal(t, []string{"a:joined", "b:joined", "b:quit"}, log)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryUnsubscribeDuringDispatch(t *testing.T) {
	var tr Trampoline
	reg := NewRegistry[func(string)](&tr)
	var got []string

	var second *Subscription
	reg.Subscribe(func(s string) {
		got = append(got, "first:"+s)
		second.Cancel()
	})
	second = reg.Subscribe(func(s string) { got = append(got, "second:"+s) })

	reg.Dispatch(func(l func(string)) { l("x") })
	reg.Dispatch(func(l func(string)) { l("y") })
	assert.Equal(t, []string{"first:x", "first:y"}, got)
}

func TestRegistryNoStaleDeliveryAfterCancel(t *testing.T) {
	gate := make(chan struct{})
	q := NewQueue(nil)
	defer func() {
		q.Close()
		<-q.Done()
	}()
	q.Post(func() { <-gate })

	reg := NewRegistry[func()](q)
	delivered := make(chan struct{}, 1)
	sub := reg.Subscribe(func() { delivered <- struct{}{} })

	reg.Dispatch(func(l func()) { l() })
	sub.Cancel()
	close(gate)

	Call(q, func() {})
	select {
	case <-delivered:
		t.Fatal("listener received a callback after cancelling")
	case <-time.After(10 * time.Millisecond):
	}
}
