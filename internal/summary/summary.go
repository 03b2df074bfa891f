// Package summary writes short abstracts of blog posts with a language model.
package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shineum/comment-notifier/internal/comment"
	"github.com/shineum/comment-notifier/internal/llm"
)

// DefaultPrompt is used when no prompt is configured.
const DefaultPrompt = "请为以下文章生成一段简洁的摘要，不超过100字，直接输出文字摘要内容即可，不要包含任何前缀或解释，不要使用Markdown。\n\n标题：{title}\n\n内容：{content}"

// DefaultMaxInput is the number of characters of post content sent to the
// model when no limit is configured.
const DefaultMaxInput = 20000

// Timeout bounds one summary request. Summaries of long posts are slow.
const Timeout = 120 * time.Second

const (
	markdownMarker = "<!--markdown-->"
	truncatedNote  = "\n...(内容已截断)"
	temperature    = 0.7
	maxTokens      = 500
)

var (
	// ErrDisabled is returned when no model is configured.
	ErrDisabled = errors.New("AI summary is disabled")
	// ErrEmptyContent is returned for posts without text.
	ErrEmptyContent = errors.New("post content is empty")
)

// Completer runs one chat completion.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// Summarizer produces post summaries.
type Summarizer struct {
	llm      Completer
	prompt   string
	maxInput int
}

// New creates a Summarizer. A nil completer disables it; zero values pick
// DefaultPrompt and DefaultMaxInput.
func New(c Completer, prompt string, maxInput int) *Summarizer {
	if prompt == "" {
		prompt = DefaultPrompt
	}
	if maxInput <= 0 {
		maxInput = DefaultMaxInput
	}
	return &Summarizer{llm: c, prompt: prompt, maxInput: maxInput}
}

// Enabled reports whether Summarize can reach a model.
func (s *Summarizer) Enabled() bool {
	return s != nil && s.llm != nil
}

// Summarize returns a plain-text summary of the post.
func (s *Summarizer) Summarize(ctx context.Context, title, content string) (string, error) {
	if !s.Enabled() {
		return "", ErrDisabled
	}

	content = Prepare(content, s.maxInput)
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyContent
	}

	prompt := comment.Render(s.prompt, comment.Vars{"title": title, "content": content})
	out, err := s.llm.Complete(ctx, llm.Request{
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("summary request failed: %w", err)
	}
	return out, nil
}

// Prepare strips the editor's Markdown marker and cuts content to at most
// maxInput characters, noting the cut.
func Prepare(content string, maxInput int) string {
	content = strings.TrimPrefix(content, markdownMarker)

	n := 0
	for i := range content {
		if n == maxInput {
			return content[:i] + truncatedNote
		}
		n++
	}
	return content
}
