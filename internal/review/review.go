// Package review moderates waiting comments with a language model.
package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shineum/comment-notifier/internal/comment"
	"github.com/shineum/comment-notifier/internal/llm"
)

// SystemPrompt frames every moderation request.
const SystemPrompt = "你是一个博客评论审核助手，请严格按照JSON格式返回审核结果。"

// DefaultPrompt is the moderation prompt used when none is configured.
const DefaultPrompt = "你是一个博客评论审核助手。请判断以下评论是否应该通过审核。\n" +
	"通过条件：内容正常、无违规、无恶意推广、无垃圾信息、无无意义内容（如纯表情、乱码、测试等）。\n" +
	"拒绝条件：包含违规内容、恶意推广/广告链接、垃圾信息、无意义灌水、攻击性言论。\n\n" +
	"评论信息：\n" +
	"- 昵称：{author}\n" +
	"- 邮箱：{email}\n" +
	"- 网站：{url}\n" +
	"- IP：{ip}\n" +
	"- 评论内容：{text}\n" +
	"- 所属文章：{postTitle}\n\n" +
	"请严格以JSON格式返回，不要输出其他内容：\n" +
	"{\"approved\": true或false, \"reason\": \"简短审核理由\"}"

const (
	temperature = 0.3
	maxTokens   = 200
)

var (
	// ErrDisabled is returned by Review when no model is configured.
	ErrDisabled = errors.New("AI review is disabled")
	// ErrMalformedVerdict is returned when the model reply is not a verdict.
	ErrMalformedVerdict = errors.New("malformed review verdict")
)

// Completer runs one chat completion.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// Verdict is the model's decision on one comment.
type Verdict struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// Status maps the verdict to the comment status it implies.
func (v Verdict) Status() comment.Status {
	if v.Approved {
		return comment.StatusApproved
	}
	return comment.StatusSpam
}

// Label renders the verdict for push notifications.
func (v Verdict) Label() string {
	label := "❌ AI审核拒绝"
	if v.Approved {
		label = "✅ AI审核通过"
	}
	if v.Reason != "" {
		label += "（" + v.Reason + "）"
	}
	return label
}

// Reviewer asks a model whether comments may be published.
type Reviewer struct {
	llm    Completer
	prompt string
}

// New creates a Reviewer. A nil completer yields a disabled Reviewer; an
// empty prompt selects DefaultPrompt.
func New(c Completer, prompt string) *Reviewer {
	if prompt == "" {
		prompt = DefaultPrompt
	}
	return &Reviewer{llm: c, prompt: prompt}
}

// Enabled reports whether Review can reach a model.
func (r *Reviewer) Enabled() bool {
	return r != nil && r.llm != nil
}

// Review asks the model about c. Any error means no decision was made and
// the comment should keep its current status.
func (r *Reviewer) Review(ctx context.Context, c *comment.Comment, post comment.Post) (Verdict, error) {
	if !r.Enabled() {
		return Verdict{}, ErrDisabled
	}

	prompt := comment.Render(r.prompt, promptVars(c, post))
	out, err := r.llm.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: prompt},
		},
		JSON:        true,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("review request failed: %w", err)
	}
	return parseVerdict(out)
}

// promptVars are the placeholders known to moderation prompts.
func promptVars(c *comment.Comment, post comment.Post) comment.Vars {
	return comment.Vars{
		"author":    c.Author,
		"email":     c.Email,
		"url":       c.URL,
		"text":      c.Text,
		"postTitle": post.Title,
		"permalink": post.Permalink,
		"ip":        c.IP,
		"date":      c.Created.Format(comment.DateLayout),
	}
}

func parseVerdict(s string) (Verdict, error) {
	var raw struct {
		Approved *bool  `json:"approved"`
		Reason   string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrMalformedVerdict, err)
	}
	if raw.Approved == nil {
		return Verdict{}, fmt.Errorf("%w: missing approved field", ErrMalformedVerdict)
	}
	return Verdict{Approved: *raw.Approved, Reason: raw.Reason}, nil
}
