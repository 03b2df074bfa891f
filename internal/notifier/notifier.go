// Package notifier reacts to blog comment events: it moderates new comments,
// pushes a summary to the site owner and queues reply mails for the people
// being answered.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shineum/comment-notifier/internal/comment"
	"github.com/shineum/comment-notifier/internal/email"
	"github.com/shineum/comment-notifier/internal/queue"
	"github.com/shineum/comment-notifier/internal/review"
	"github.com/shineum/comment-notifier/internal/serverchan"
)

// Config holds site identity and templates. Empty templates select the
// defaults from package comment.
type Config struct {
	SiteTitle     string
	SiteURL       string
	OwnerID       int64
	SenderName    string
	SenderAddress string

	Subject  string
	Body     string
	OwnerTag string

	PushTitle   string
	PushContent string
	PushTags    string
	PushShort   string
	// SkipOwner suppresses review and push for comments the owner posts.
	SkipOwner bool
}

func (c Config) withDefaults() Config {
	if c.Subject == "" {
		c.Subject = comment.DefaultSubject
	}
	if c.Body == "" {
		c.Body = comment.DefaultBody
	}
	if c.OwnerTag == "" {
		c.OwnerTag = comment.DefaultOwnerTag
	}
	if c.PushTitle == "" {
		c.PushTitle = comment.DefaultPushTitle
	}
	if c.PushContent == "" {
		c.PushContent = comment.DefaultPushContent
	}
	if c.PushTags == "" {
		c.PushTags = comment.DefaultPushTags
	}
	if c.PushShort == "" {
		c.PushShort = comment.DefaultPushShort
	}
	if c.OwnerID == 0 {
		c.OwnerID = 1
	}
	return c
}

// Pusher sends a push notification.
type Pusher interface {
	Send(ctx context.Context, msg serverchan.Message) error
}

// Enqueuer schedules a reply mail.
type Enqueuer interface {
	Enqueue(job queue.Job) error
}

// Sender delivers a mail synchronously.
type Sender interface {
	Send(ctx context.Context, e *email.Email) error
	Name() string
}

// Deps are the collaborators of a Notifier. Reviewer and Pusher may be nil
// to disable moderation and push notifications.
type Deps struct {
	Reviewer *review.Reviewer
	Pusher   Pusher
	Queue    Enqueuer
	Sender   Sender
	Statuses *comment.StatusBook
	Logger   *slog.Logger
	Now      func() time.Time
}

// Notifier handles comment events.
type Notifier struct {
	cfg       Config
	fallbacks comment.Fallbacks
	reviewer  *review.Reviewer
	pusher    Pusher
	queue     Enqueuer
	sender    Sender
	statuses  *comment.StatusBook
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Notifier.
func New(cfg Config, deps Deps) *Notifier {
	cfg = cfg.withDefaults()
	if deps.Statuses == nil {
		deps.Statuses = comment.NewStatusBook(0)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Notifier{
		cfg:       cfg,
		fallbacks: comment.DefaultFallbacks(cfg.SiteURL),
		reviewer:  deps.Reviewer,
		pusher:    deps.Pusher,
		queue:     deps.Queue,
		sender:    deps.Sender,
		statuses:  deps.Statuses,
		logger:    deps.Logger,
		now:       deps.Now,
	}
}

// Event reports a newly posted comment.
type Event struct {
	Comment      comment.Comment  `json:"comment" validate:"required"`
	Parent       *comment.Comment `json:"parent,omitempty"`
	Post         *comment.Post    `json:"post,omitempty"`
	ActingUserID int64            `json:"acting_user_id"`
}

// MarkEvent reports a moderation change. Comment.Status holds the status
// before the change and Status the new one.
type MarkEvent struct {
	Comment      comment.Comment  `json:"comment" validate:"required"`
	Parent       *comment.Comment `json:"parent,omitempty"`
	Post         *comment.Post    `json:"post,omitempty"`
	ActingUserID int64            `json:"acting_user_id"`
	Status       comment.Status   `json:"status" validate:"required,oneof=approved waiting spam"`
}

// Outcome describes what NewComment or Mark did.
type Outcome struct {
	Status       comment.Status  `json:"status"`
	Verdict      *review.Verdict `json:"verdict,omitempty"`
	ReviewError  string          `json:"review_error,omitempty"`
	Pushed       bool            `json:"pushed"`
	PushError    string          `json:"push_error,omitempty"`
	MailQueued   bool            `json:"mail_queued"`
	MailSkipped  string          `json:"mail_skipped,omitempty"`
	OwnerSkipped bool            `json:"owner_skipped,omitempty"`
}

// NewComment moderates, announces and, for replies, queues a mail to the
// parent's author. Failures of moderation or push are reported in the
// Outcome and never stop the remaining steps.
func (n *Notifier) NewComment(ctx context.Context, ev Event) Outcome {
	c := &ev.Comment
	post := n.fallbacks.ResolvePost(ev.Post)
	ownerID := ev.Post.OwnerID(n.cfg.OwnerID)
	logger := n.logger.With("comment_id", c.ID, "post_id", c.PostID)

	out := Outcome{Status: c.Status}
	if out.Status == "" {
		out.Status = comment.StatusWaiting
	}

	if n.cfg.SkipOwner && ev.ActingUserID != 0 && ev.ActingUserID == ownerID {
		out.OwnerSkipped = true
		logger.Debug("comment posted by site owner, skipping review and push")
	} else {
		n.moderate(ctx, c, post, &out, logger)
		n.push(ctx, c, post, &out, logger)
	}

	n.statuses.Set(c.ID, out.Status)
	n.queueReply(c, ev.Parent, ev.Post, post, ev.ActingUserID, &out, logger)
	return out
}

// Mark records a moderation change and queues the reply mail when a reply
// becomes approved.
func (n *Notifier) Mark(_ context.Context, ev MarkEvent) Outcome {
	c := &ev.Comment
	logger := n.logger.With("comment_id", c.ID, "post_id", c.PostID)
	out := Outcome{Status: ev.Status}

	n.statuses.Set(c.ID, ev.Status)

	if !comment.ApprovalTransition(c.Status, ev.Status) {
		out.MailSkipped = comment.ErrNotApproved.Error()
		logger.Debug("status change does not approve the comment",
			"from", string(c.Status),
			"to", string(ev.Status),
		)
		return out
	}

	post := n.fallbacks.ResolvePost(ev.Post)
	n.queueReply(c, ev.Parent, ev.Post, post, ev.ActingUserID, &out, logger)
	return out
}

func (n *Notifier) moderate(ctx context.Context, c *comment.Comment, post comment.Post, out *Outcome, logger *slog.Logger) {
	if !n.reviewer.Enabled() || out.Status != comment.StatusWaiting {
		return
	}

	verdict, err := n.reviewer.Review(ctx, c, post)
	if err != nil {
		out.ReviewError = err.Error()
		logger.Warn("AI review failed, comment stays waiting", "error", err)
		return
	}

	out.Verdict = &verdict
	out.Status = verdict.Status()
	logger.Info("AI review finished",
		"approved", verdict.Approved,
		"reason", verdict.Reason,
		"status", string(out.Status),
	)
}

func (n *Notifier) push(ctx context.Context, c *comment.Comment, post comment.Post, out *Outcome, logger *slog.Logger) {
	if n.pusher == nil {
		return
	}

	aiResult := ""
	if out.Verdict != nil {
		aiResult = out.Verdict.Label()
	}
	vars := comment.PushVars(c, post, n.cfg.SiteTitle, out.Status, aiResult)
	msg := serverchan.Message{
		Title: comment.Render(n.cfg.PushTitle, vars),
		Desp:  comment.Render(n.cfg.PushContent, vars),
		Tags:  comment.Render(n.cfg.PushTags, vars),
		Short: comment.Render(n.cfg.PushShort, vars),
	}

	if err := n.pusher.Send(ctx, msg); err != nil {
		out.PushError = err.Error()
		logger.Warn("push notification failed", "error", err)
		return
	}
	out.Pushed = true
}

func (n *Notifier) queueReply(c, parent *comment.Comment, rawPost *comment.Post, post comment.Post, actingUserID int64, out *Outcome, logger *slog.Logger) {
	ownerID := rawPost.OwnerID(n.cfg.OwnerID)
	if err := comment.ReplyNotice(c, parent, ownerID); err != nil {
		out.MailSkipped = err.Error()
		logger.Debug("no reply mail", "reason", err)
		return
	}
	if n.queue == nil {
		out.MailSkipped = "mail delivery is not configured"
		return
	}

	e := n.replyMail(c, parent, post, comment.IsOwnerReply(c, ownerID, actingUserID))
	if err := n.queue.Enqueue(queue.Job{CommentID: c.ID, Email: e}); err != nil {
		out.MailSkipped = err.Error()
		logger.Error("failed to queue reply mail", "error", err)
		return
	}
	out.MailQueued = true
	logger.Info("reply mail queued", "to", e.Envelope.ToAddress)
}

func (n *Notifier) replyMail(reply, parent *comment.Comment, post comment.Post, isOwner bool) *email.Email {
	vars := comment.ReplyVars(comment.Reply{
		SiteTitle: n.cfg.SiteTitle,
		SiteURL:   n.cfg.SiteURL,
		Post:      post,
		Reply:     reply,
		Parent:    parent,
		OwnerTag:  n.cfg.OwnerTag,
		IsOwner:   isOwner,
		Now:       n.now(),
	})
	return &email.Email{
		Envelope: email.Envelope{
			FromAddress: n.cfg.SenderAddress,
			FromName:    n.cfg.SenderName,
			ToAddress:   parent.Email,
			ToName:      parent.Author,
		},
		Message: email.Message{
			Subject: comment.Render(n.cfg.Subject, vars),
			Body:    comment.Render(n.cfg.Body, vars),
		},
	}
}

// ErrNoSender is returned by TestMail when no delivery provider is set.
var ErrNoSender = errors.New("no mail provider configured")

// TestMessage builds the diagnostic mail sent by TestMail.
func (n *Notifier) TestMessage(to string) *email.Email {
	now := n.now()
	return &email.Email{
		Envelope: email.Envelope{
			FromAddress: n.cfg.SenderAddress,
			FromName:    n.cfg.SenderName,
			ToAddress:   to,
		},
		Message: email.Message{
			Subject: fmt.Sprintf("「%s」测试邮件", n.cfg.SiteTitle),
			Body: fmt.Sprintf("<p>这是一封来自 <a href=\"%s\">%s</a> 的测试邮件，收到说明邮件配置正确。</p><p>%s</p>",
				n.cfg.SiteURL, comment.FormatText(n.cfg.SiteTitle), now.Format(comment.DateLayout)),
		},
	}
}

// TestMail sends TestMessage(to) right away, bypassing the queue.
func (n *Notifier) TestMail(ctx context.Context, to string) (*email.Email, error) {
	if n.sender == nil {
		return nil, ErrNoSender
	}
	e := n.TestMessage(to)
	if err := n.sender.Send(ctx, e); err != nil {
		return e, fmt.Errorf("test mail via %s failed: %w", n.sender.Name(), err)
	}
	n.logger.Info("test mail sent", "provider", n.sender.Name(), "to", to, "message_id", e.MessageID)
	return e, nil
}
