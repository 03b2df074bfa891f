// Package queue delivers reply mails in the background, one at a time.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shineum/comment-notifier/internal/comment"
	"github.com/shineum/comment-notifier/internal/email"
)

const (
	defaultSize        = 64
	defaultSendTimeout = 2 * time.Minute
)

var (
	// ErrFull is returned by Enqueue when the buffer is full.
	ErrFull = errors.New("mail queue is full")
	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("mail queue is closed")
)

// Sender delivers one mail. provider.Provider satisfies it.
type Sender interface {
	Send(ctx context.Context, e *email.Email) error
	Name() string
}

// StatusSource reports the latest known status of a comment.
type StatusSource interface {
	Get(id int64) (comment.Status, bool)
}

// Job is one pending reply mail.
type Job struct {
	CommentID int64
	Email     *email.Email
}

// Result is reported for every job the worker finishes.
type Result struct {
	Job     Job
	Sent    bool
	Skipped error // set when the status check cancelled the job
	Err     error // set when delivery failed
}

// Options tunes a Queue. Zero values select defaults.
type Options struct {
	Size        int
	SendTimeout time.Duration
	Logger      *slog.Logger
	// OnResult, if set, is called by the worker after each job.
	OnResult func(Result)
}

// Queue runs a single worker that sends jobs in order. A job is only sent
// if its comment is approved when the worker reaches it. Failed sends are
// logged and dropped.
type Queue struct {
	jobs     chan Job
	sender   Sender
	statuses StatusSource
	timeout  time.Duration
	logger   *slog.Logger
	onResult func(Result)

	// base is cancelled when Close gives up waiting.
	base   context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// New creates a Queue and starts its worker.
func New(sender Sender, statuses StatusSource, opts Options) *Queue {
	if opts.Size <= 0 {
		opts.Size = defaultSize
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	base, cancel := context.WithCancel(context.Background())
	q := &Queue{
		jobs:     make(chan Job, opts.Size),
		sender:   sender,
		statuses: statuses,
		timeout:  opts.SendTimeout,
		logger:   opts.Logger,
		onResult: opts.OnResult,
		base:     base,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go q.run()
	return q
}

// Enqueue schedules job without blocking.
func (q *Queue) Enqueue(job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrFull
	}
}

// Len returns the number of jobs waiting.
func (q *Queue) Len() int {
	return len(q.jobs)
}

// Close stops accepting jobs and waits for the worker to drain the queue.
// If ctx ends first, the job in flight is cancelled and ctx.Err() returned.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-q.done
		return ctx.Err()
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for job := range q.jobs {
		if q.base.Err() != nil {
			q.logger.Warn("dropping queued mail on shutdown", "comment_id", job.CommentID)
			continue
		}
		res := q.process(job)
		if q.onResult != nil {
			q.onResult(res)
		}
	}
}

func (q *Queue) process(job Job) Result {
	res := Result{Job: job}
	logger := q.logger.With("comment_id", job.CommentID, "to", job.Email.Envelope.ToAddress)

	status, ok := q.statuses.Get(job.CommentID)
	if !ok || status != comment.StatusApproved {
		if !ok {
			status = "unknown"
		}
		res.Skipped = comment.ErrNotApproved
		logger.Info("reply mail not sent, comment is not approved", "status", string(status))
		return res
	}

	ctx, cancel := context.WithTimeout(q.base, q.timeout)
	defer cancel()

	if err := q.sender.Send(ctx, job.Email); err != nil {
		res.Err = err
		logger.Error("reply mail failed", "provider", q.sender.Name(), "error", err)
		return res
	}

	res.Sent = true
	logger.Info("reply mail sent",
		"provider", q.sender.Name(),
		"subject", job.Email.Message.Subject,
		"message_id", job.Email.MessageID,
	)
	return res
}
