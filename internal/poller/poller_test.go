package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/storefront-checkout/internal/api"
	"github.com/mmeshcher/storefront-checkout/internal/model"
	"github.com/mmeshcher/storefront-checkout/internal/storefront"
)

type response struct {
	status model.OrderStatus
	err    error
}

// scriptedSource отдаёт ответы по порядку, последний повторяется.
type scriptedSource struct {
	mu        sync.Mutex
	responses []response
	calls     map[string]int
}

func newScriptedSource(responses ...response) *scriptedSource {
	return &scriptedSource{responses: responses, calls: make(map[string]int)}
}

func (s *scriptedSource) OrderStatus(ctx context.Context, id string) (model.OrderStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.calls[id]
	s.calls[id]++
	if n >= len(s.responses) {
		n = len(s.responses) - 1
	}
	return s.responses[n].status, s.responses[n].err
}

func (s *scriptedSource) count(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

func notFound() response {
	return response{err: storefront.ErrNotFound}
}

func TestPoll_Outcomes(t *testing.T) {
	tests := []struct {
		name          string
		responses     []response
		wantConfirmed bool
		wantTimedOut  bool
		wantStatus    model.OrderStatus
		wantAttempts  int
	}{
		{
			name:          "not found then confirmed",
			responses:     []response{notFound(), {status: model.OrderStatusConfirmed}},
			wantConfirmed: true,
			wantStatus:    model.OrderStatusConfirmed,
			wantAttempts:  2,
		},
		{
			name:          "paid counts as confirmed",
			responses:     []response{{status: model.OrderStatusPending}, {status: model.OrderStatusPaid}},
			wantConfirmed: true,
			wantStatus:    model.OrderStatusPaid,
			wantAttempts:  2,
		},
		{
			name:         "explicit failure",
			responses:    []response{{status: model.OrderStatusFailed}},
			wantStatus:   model.OrderStatusFailed,
			wantAttempts: 1,
		},
		{
			name: "transport and server errors keep polling",
			responses: []response{
				{err: api.Network(errors.New("reset"))},
				{err: &api.Error{Kind: api.KindServer, Status: 502}},
				{status: model.OrderStatusShipped},
			},
			wantConfirmed: true,
			wantStatus:    model.OrderStatusShipped,
			wantAttempts:  3,
		},
		{
			name:         "always not found times out",
			responses:    []response{notFound()},
			wantTimedOut: true,
			wantStatus:   model.OrderStatusPending,
			wantAttempts: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newScriptedSource(tt.responses...)
			p := New(src, WithInterval(time.Millisecond), WithMaxAttempts(5))

			out := p.Poll(context.Background(), "pi_1")

			assert.Equal(t, tt.wantConfirmed, out.Confirmed)
			assert.Equal(t, tt.wantTimedOut, out.TimedOut)
			assert.Equal(t, tt.wantStatus, out.Status)
			assert.Equal(t, tt.wantAttempts, out.Attempts)
			assert.Equal(t, tt.wantAttempts, src.count("pi_1"))
		})
	}
}

func TestPoll_StopsAfterExactlyMaxAttempts(t *testing.T) {
	for _, k := range []int{1, 3, 10} {
		src := newScriptedSource(response{status: model.OrderStatusPending})
		p := New(src, WithInterval(time.Millisecond), WithMaxAttempts(k))

		out := p.Poll(context.Background(), "pi_1")

		assert.True(t, out.TimedOut)
		assert.True(t, out.Failed())
		assert.Equal(t, TimeoutMessage, out.Message)
		assert.Equal(t, k, src.count("pi_1"))
	}
}

func TestPoll_TimeoutDiffersFromFailure(t *testing.T) {
	timedOut := New(newScriptedSource(notFound()), WithInterval(time.Millisecond), WithMaxAttempts(2)).
		Poll(context.Background(), "pi_1")
	failed := New(newScriptedSource(response{status: model.OrderStatusCancelled}), WithInterval(time.Millisecond)).
		Poll(context.Background(), "pi_1")

	assert.True(t, timedOut.TimedOut)
	assert.False(t, failed.TimedOut)
	assert.NotEqual(t, timedOut.Message, failed.Message)
}

func TestPoll_ContextCancel(t *testing.T) {
	src := newScriptedSource(notFound())
	p := New(src, WithInterval(time.Hour), WithMaxAttempts(100))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	out := p.Poll(ctx, "pi_1")
	assert.True(t, out.Canceled)
	assert.False(t, out.Confirmed)
	assert.Equal(t, 1, src.count("pi_1"))
}

func TestStart_NewTaskCancelsPrevious(t *testing.T) {
	src := newScriptedSource(notFound())
	p := New(src, WithInterval(10*time.Millisecond), WithMaxAttempts(1000))

	first := p.Start(context.Background(), "pi_old")
	time.Sleep(25 * time.Millisecond)

	second := p.Start(context.Background(), "pi_new")

	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("previous task was not cancelled")
	}
	assert.True(t, first.Outcome().Canceled)

	callsAfterCancel := src.count("pi_old")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, callsAfterCancel, src.count("pi_old"), "cancelled task kept polling")

	second.Stop()
	assert.True(t, second.Outcome().Canceled)
	assert.Equal(t, "pi_new", second.PaymentIntentID())
}

func TestStart_ResolvesInBackground(t *testing.T) {
	src := newScriptedSource(notFound(), response{status: model.OrderStatusConfirmed})
	p := New(src, WithInterval(time.Millisecond), WithMaxAttempts(5))

	task := p.Start(context.Background(), "pi_1")

	out := task.Outcome()
	require.True(t, out.Confirmed)
	assert.Equal(t, 2, out.Attempts)
}

func TestPollerStop(t *testing.T) {
	src := newScriptedSource(notFound())
	p := New(src, WithInterval(time.Hour))

	task := p.Start(context.Background(), "pi_1")
	p.Stop()

	select {
	case <-task.Done():
	case <-time.After(time.Second):
		t.Fatal("task did not stop")
	}
	assert.True(t, task.Outcome().Canceled)
}

func TestPoll_NewPollCancelsPrevious(t *testing.T) {
	src := newScriptedSource(notFound())
	p := New(src, WithInterval(5*time.Millisecond), WithMaxAttempts(1000))

	first := make(chan Outcome, 1)
	go func() {
		first <- p.Poll(context.Background(), "pi_old")
	}()
	require.Eventually(t, func() bool { return src.count("pi_old") >= 2 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	second := make(chan Outcome, 1)
	go func() {
		second <- p.Poll(ctx, "pi_new")
	}()

	var out Outcome
	select {
	case out = <-first:
	case <-time.After(time.Second):
		t.Fatal("previous poll was not cancelled")
	}
	assert.True(t, out.Canceled)
	assert.False(t, out.TimedOut)
	assert.Equal(t, StoppedMessage, out.Message)

	oldCalls := src.count("pi_old")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, oldCalls, src.count("pi_old"), "cancelled poll kept polling")
	assert.Positive(t, src.count("pi_new"))

	cancel()
	assert.True(t, (<-second).Canceled)
}

func TestPoll_FinishedTaskIsReleased(t *testing.T) {
	src := newScriptedSource(response{status: model.OrderStatusPaid})
	p := New(src, WithInterval(time.Millisecond))

	out := p.Poll(context.Background(), "pi_1")
	require.True(t, out.Confirmed)

	assert.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.current == nil
	}, time.Second, time.Millisecond)
}
