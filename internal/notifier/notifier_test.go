package notifier

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
	"github.com/shineum/comment-notifier/internal/llm"
	"github.com/shineum/comment-notifier/internal/queue"
	"github.com/shineum/comment-notifier/internal/review"
	"github.com/shineum/comment-notifier/internal/serverchan"
)

type fakePusher struct {
	mu   sync.Mutex
	msgs []serverchan.Message
	err  error
}

func (f *fakePusher) Send(_ context.Context, msg serverchan.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
	return f.err
}

type fakeQueue struct {
	jobs []queue.Job
	err  error
}

func (f *fakeQueue) Enqueue(job queue.Job) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type fakeCompleter struct {
	out string
	err error
}

func (f *fakeCompleter) Complete(context.Context, llm.Request) (string, error) {
	return f.out, f.err
}

type fakeSender struct {
	sent []*email.Email
	err  error
}

func (f *fakeSender) Send(_ context.Context, e *email.Email) error {
	if f.err != nil {
		return f.err
	}
	e.MessageID = "<test@id>"
	f.sent = append(f.sent, e)
	return nil
}

func (f *fakeSender) Name() string { return "fake" }

type fixture struct {
	n      *Notifier
	pusher *fakePusher
	queue  *fakeQueue
	sender *fakeSender
	book   *comment.StatusBook
}

func newFixture(t *testing.T, completer review.Completer, mutate func(*Config)) *fixture {
	t.Helper()
	cfg := Config{
		SiteTitle:     "小猪的博客",
		SiteURL:       "https://blog.example.com",
		OwnerID:       1,
		SenderName:    "小猪的博客",
		SenderAddress: "blog@example.com",
		SkipOwner:     true,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	f := &fixture{
		pusher: &fakePusher{},
		queue:  &fakeQueue{},
		sender: &fakeSender{},
		book:   comment.NewStatusBook(0),
	}
	var reviewer *review.Reviewer
	if completer != nil {
		reviewer = review.New(completer, "")
	}
	f.n = New(cfg, Deps{
		Reviewer: reviewer,
		Pusher:   f.pusher,
		Queue:    f.queue,
		Sender:   f.sender,
		Statuses: f.book,
		Now:      func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	return f
}

func replyEvent(status comment.Status) Event {
	return Event{
		Comment: comment.Comment{
			ID:       11,
			PostID:   3,
			ParentID: 10,
			Author:   "Bob",
			Email:    "bob@example.com",
			Text:     "I agree\nfully",
			Status:   status,
			Created:  time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC),
		},
		Parent: &comment.Comment{ID: 10, PostID: 3, Author: "Alice", Email: "alice@example.com", Text: "Nice post"},
		Post:   &comment.Post{ID: 3, Title: "Go 入门", Permalink: "https://blog.example.com/go", AuthorID: 1},
	}
}

func TestNewComment_ApprovedReply(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, nil)
	out := f.n.NewComment(context.Background(), replyEvent(comment.StatusApproved))

	assert.Equal(t, comment.StatusApproved, out.Status)
	assert.True(t, out.Pushed)
	assert.True(t, out.MailQueued)
	assert.Nil(t, out.Verdict)

	s, ok := f.book.Get(11)
	require.True(t, ok)
	assert.Equal(t, comment.StatusApproved, s)

	require.Len(t, f.queue.jobs, 1)
	job := f.queue.jobs[0]
	assert.Equal(t, int64(11), job.CommentID)
	assert.Equal(t, email.Envelope{
		FromAddress: "blog@example.com",
		FromName:    "小猪的博客",
		ToAddress:   "alice@example.com",
		ToName:      "Alice",
	}, job.Email.Envelope)
	assert.Equal(t, "您在「小猪的博客」的评论收到了回复", job.Email.Message.Subject)
	assert.Contains(t, job.Email.Message.Body, "I agree<br />\nfully")
	assert.Contains(t, job.Email.Message.Body, "「Go 入门」")
	assert.NotContains(t, job.Email.Message.Body, "博主</span>")

	require.Len(t, f.pusher.msgs, 1)
	msg := f.pusher.msgs[0]
	assert.Equal(t, "博客「小猪的博客」有新评论", msg.Title)
	assert.Equal(t, "博客评论", msg.Tags)
	assert.Equal(t, "Bob 评论了「Go 入门」：I agree\nfully", msg.Short)
	assert.Contains(t, msg.Desp, "| **状态** | 已通过 |")
	assert.Contains(t, msg.Desp, "| **时间** | 2025-03-01 11:00:00 |")
}

func TestNewComment_AIReview(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		completer  *fakeCompleter
		wantStatus comment.Status
		wantAI     string
		wantErr    bool
	}{
		{
			name:       "approved",
			completer:  &fakeCompleter{out: `{"approved":true,"reason":"正常评论"}`},
			wantStatus: comment.StatusApproved,
			wantAI:     "✅ AI审核通过（正常评论）",
		},
		{
			name:       "rejected",
			completer:  &fakeCompleter{out: `{"approved":false}`},
			wantStatus: comment.StatusSpam,
			wantAI:     "❌ AI审核拒绝",
		},
		{
			name:       "model unavailable",
			completer:  &fakeCompleter{err: &llm.APIError{StatusCode: 503, Transient: true}},
			wantStatus: comment.StatusWaiting,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, tt.completer, nil)
			out := f.n.NewComment(context.Background(), replyEvent(comment.StatusWaiting))

			assert.Equal(t, tt.wantStatus, out.Status)
			assert.Equal(t, tt.wantErr, out.ReviewError != "")
			s, _ := f.book.Get(11)
			assert.Equal(t, tt.wantStatus, s)

			require.Len(t, f.pusher.msgs, 1)
			assert.Contains(t, f.pusher.msgs[0].Desp, "| **状态** | "+tt.wantStatus.Label()+" |")
			assert.Contains(t, f.pusher.msgs[0].Desp, "**AI审核：** "+tt.wantAI+"\n")

			// The mail is queued regardless; the queue re-checks the status.
			assert.True(t, out.MailQueued)
		})
	}
}

func TestNewComment_ReviewOnlyForWaiting(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeCompleter{out: `{"approved":false}`}, nil)
	out := f.n.NewComment(context.Background(), replyEvent(comment.StatusApproved))

	assert.Nil(t, out.Verdict)
	assert.Equal(t, comment.StatusApproved, out.Status)
}

func TestNewComment_OwnerSkipped(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeCompleter{out: `{"approved":true}`}, nil)
	ev := replyEvent(comment.StatusApproved)
	ev.ActingUserID = 1
	ev.Comment.AuthorID = 1
	out := f.n.NewComment(context.Background(), ev)

	assert.True(t, out.OwnerSkipped)
	assert.False(t, out.Pushed)
	assert.Empty(t, f.pusher.msgs)
	require.True(t, out.MailQueued, "the reply mail is independent of push settings")
	assert.Contains(t, f.queue.jobs[0].Email.Message.Body, comment.DefaultOwnerTag)
}

func TestNewComment_OwnerNotSkipped(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, func(c *Config) { c.SkipOwner = false })
	ev := replyEvent(comment.StatusApproved)
	ev.ActingUserID = 1
	out := f.n.NewComment(context.Background(), ev)

	assert.False(t, out.OwnerSkipped)
	assert.True(t, out.Pushed)
}

func TestNewComment_NoMail(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Event)
		want   error
	}{
		{name: "top level", mutate: func(e *Event) { e.Comment.ParentID = 0; e.Parent = nil }, want: comment.ErrNotReply},
		{name: "parent unknown", mutate: func(e *Event) { e.Parent = nil }, want: comment.ErrParentMissing},
		{name: "parent without email", mutate: func(e *Event) { e.Parent.Email = "" }, want: comment.ErrParentNoEmail},
		{name: "parent by post author", mutate: func(e *Event) { e.Parent.AuthorID = 1 }, want: comment.ErrParentIsOwner},
		{name: "same address", mutate: func(e *Event) { e.Comment.Email = "alice@example.com" }, want: comment.ErrSameRecipient},
		{
			name: "owner from post author",
			mutate: func(e *Event) {
				e.Post.AuthorID = 7
				e.Parent.AuthorID = 7
			},
			want: comment.ErrParentIsOwner,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, nil, nil)
			ev := replyEvent(comment.StatusApproved)
			tt.mutate(&ev)
			out := f.n.NewComment(context.Background(), ev)

			assert.False(t, out.MailQueued)
			assert.Equal(t, tt.want.Error(), out.MailSkipped)
			assert.Empty(t, f.queue.jobs)
			assert.True(t, out.Pushed)
		})
	}
}

func TestNewComment_PostFallbacks(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, nil)
	ev := replyEvent(comment.StatusApproved)
	ev.Post = nil
	out := f.n.NewComment(context.Background(), ev)

	require.True(t, out.MailQueued)
	body := f.queue.jobs[0].Email.Message.Body
	assert.Contains(t, body, "「未知文章」")
	assert.Contains(t, body, `href="https://blog.example.com"`)
	assert.Contains(t, f.pusher.msgs[0].Desp, "[未知文章](https://blog.example.com)")
}

func TestNewComment_PushAndQueueFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, nil)
	f.pusher.err = errors.New("push down")
	f.queue.err = queue.ErrFull

	out := f.n.NewComment(context.Background(), replyEvent(comment.StatusApproved))
	assert.False(t, out.Pushed)
	assert.Equal(t, "push down", out.PushError)
	assert.False(t, out.MailQueued)
	assert.Equal(t, queue.ErrFull.Error(), out.MailSkipped)
}

func TestNewComment_CustomTemplates(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, func(c *Config) {
		c.Subject = "{originalAuthor}, {author} replied on {postTitle}"
		c.Body = "<p>{replyContent}</p>{authorTag}"
		c.PushTitle = "{author}: {status}"
		c.PushTags = ""
	})
	f.n.NewComment(context.Background(), replyEvent(comment.StatusApproved))

	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, "Alice, Bob replied on Go 入门", f.queue.jobs[0].Email.Message.Subject)
	assert.Equal(t, "<p>I agree<br />\nfully</p>", f.queue.jobs[0].Email.Message.Body)
	assert.Equal(t, "Bob: 已通过", f.pusher.msgs[0].Title)
	assert.Equal(t, comment.DefaultPushTags, f.pusher.msgs[0].Tags)
}

func TestMark(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		from       comment.Status
		to         comment.Status
		wantQueued bool
	}{
		{name: "waiting to approved", from: comment.StatusWaiting, to: comment.StatusApproved, wantQueued: true},
		{name: "spam to approved", from: comment.StatusSpam, to: comment.StatusApproved, wantQueued: true},
		{name: "approved again", from: comment.StatusApproved, to: comment.StatusApproved},
		{name: "marked spam", from: comment.StatusApproved, to: comment.StatusSpam},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, nil, nil)
			base := replyEvent(tt.from)
			out := f.n.Mark(context.Background(), MarkEvent{
				Comment: base.Comment,
				Parent:  base.Parent,
				Post:    base.Post,
				Status:  tt.to,
			})

			assert.Equal(t, tt.to, out.Status)
			assert.Equal(t, tt.wantQueued, out.MailQueued)
			assert.Len(t, f.queue.jobs, map[bool]int{true: 1, false: 0}[tt.wantQueued])
			s, _ := f.book.Get(base.Comment.ID)
			assert.Equal(t, tt.to, s)
			assert.Empty(t, f.pusher.msgs, "moderation changes are not pushed")
		})
	}
}

func TestTestMail(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, nil)
	e, err := f.n.TestMail(context.Background(), "me@example.com")
	require.NoError(t, err)
	assert.Equal(t, "<test@id>", e.MessageID)
	assert.Equal(t, "「小猪的博客」测试邮件", e.Message.Subject)
	assert.Contains(t, e.Message.Body, "2025-03-01 12:00:00")
	require.Len(t, f.sender.sent, 1)

	f.sender.err = errors.New("535 auth failed")
	_, err = f.n.TestMail(context.Background(), "me@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "via fake")

	n := New(Config{}, Deps{})
	_, err = n.TestMail(context.Background(), "me@example.com")
	assert.ErrorIs(t, err, ErrNoSender)
}
