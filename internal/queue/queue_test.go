package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/comment-notifier/internal/comment"
	"github.com/shineum/comment-notifier/internal/email"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	err   error
	block chan struct{}
}

func (f *fakeSender) Send(ctx context.Context, e *email.Email) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, e.Envelope.ToAddress)
	e.MessageID = "<id@test>"
	return nil
}

func (f *fakeSender) Name() string { return "fake" }

func (f *fakeSender) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func job(id int64, to string) Job {
	return Job{CommentID: id, Email: &email.Email{
		Envelope: email.Envelope{FromAddress: "blog@example.com", ToAddress: to},
		Message:  email.Message{Subject: "reply"},
	}}
}

func collect(results *[]Result, mu *sync.Mutex) func(Result) {
	return func(r Result) {
		mu.Lock()
		defer mu.Unlock()
		*results = append(*results, r)
	}
}

func TestQueue_SendsApprovedOnly(t *testing.T) {
	t.Parallel()

	book := comment.NewStatusBook(0)
	book.Set(1, comment.StatusApproved)
	book.Set(2, comment.StatusSpam)
	book.Set(3, comment.StatusApproved)

	sender := &fakeSender{}
	var mu sync.Mutex
	var results []Result
	q := New(sender, book, Options{OnResult: collect(&results, &mu)})

	require.NoError(t, q.Enqueue(job(1, "a@example.com")))
	require.NoError(t, q.Enqueue(job(2, "b@example.com")))
	require.NoError(t, q.Enqueue(job(3, "c@example.com")))
	require.NoError(t, q.Enqueue(job(4, "d@example.com")))
	require.NoError(t, q.Close(context.Background()))

	assert.Equal(t, []string{"a@example.com", "c@example.com"}, sender.recipients())

	require.Len(t, results, 4)
	assert.True(t, results[0].Sent)
	assert.Equal(t, "<id@test>", results[0].Job.Email.MessageID)
	assert.ErrorIs(t, results[1].Skipped, comment.ErrNotApproved)
	assert.ErrorIs(t, results[3].Skipped, comment.ErrNotApproved, "unknown status cancels")
}

func TestQueue_RechecksStatusAtSendTime(t *testing.T) {
	t.Parallel()

	book := comment.NewStatusBook(0)
	book.Set(1, comment.StatusApproved)
	book.Set(2, comment.StatusWaiting)

	release := make(chan struct{})
	sender := &fakeSender{block: release}
	q := New(sender, book, Options{})

	require.NoError(t, q.Enqueue(job(1, "a@example.com")))
	require.NoError(t, q.Enqueue(job(2, "b@example.com")))

	// Approved while the first job is still in flight.
	book.Set(2, comment.StatusApproved)
	close(release)

	require.NoError(t, q.Close(context.Background()))
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, sender.recipients())
}

func TestQueue_FailureNotRetried(t *testing.T) {
	t.Parallel()

	book := comment.NewStatusBook(0)
	book.Set(1, comment.StatusApproved)

	sendErr := errors.New("550 rejected")
	sender := &fakeSender{err: sendErr}
	var mu sync.Mutex
	var results []Result
	q := New(sender, book, Options{OnResult: collect(&results, &mu)})

	require.NoError(t, q.Enqueue(job(1, "a@example.com")))
	require.NoError(t, q.Close(context.Background()))

	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, sendErr)
	assert.False(t, results[0].Sent)
}

func TestQueue_Full(t *testing.T) {
	t.Parallel()

	book := comment.NewStatusBook(0)
	book.Set(1, comment.StatusApproved)

	release := make(chan struct{})
	q := New(&fakeSender{block: release}, book, Options{Size: 1})

	require.NoError(t, q.Enqueue(job(1, "a@example.com")))
	// Wait until the worker holds the first job so the buffer is empty.
	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, q.Enqueue(job(1, "b@example.com")))
	assert.ErrorIs(t, q.Enqueue(job(1, "c@example.com")), ErrFull)

	close(release)
	require.NoError(t, q.Close(context.Background()))
}

func TestQueue_EnqueueAfterClose(t *testing.T) {
	t.Parallel()

	q := New(&fakeSender{}, comment.NewStatusBook(0), Options{})
	require.NoError(t, q.Close(context.Background()))
	assert.ErrorIs(t, q.Enqueue(job(1, "a@example.com")), ErrClosed)
	assert.NoError(t, q.Close(context.Background()))
}

func TestQueue_CloseDeadline(t *testing.T) {
	t.Parallel()

	book := comment.NewStatusBook(0)
	book.Set(1, comment.StatusApproved)

	sender := &fakeSender{block: make(chan struct{})}
	var mu sync.Mutex
	var results []Result
	q := New(sender, book, Options{OnResult: collect(&results, &mu)})

	require.NoError(t, q.Enqueue(job(1, "a@example.com")))
	require.NoError(t, q.Enqueue(job(1, "b@example.com")))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := q.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, results, 1, "the second job is dropped")
	assert.ErrorIs(t, results[0].Err, context.Canceled)
	assert.Empty(t, sender.recipients())
}
