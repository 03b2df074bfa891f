package review

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/comment-notifier/internal/comment"
	"github.com/shineum/comment-notifier/internal/llm"
)

type fakeCompleter struct {
	out  string
	err  error
	last llm.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	f.last = req
	return f.out, f.err
}

func waiting() *comment.Comment {
	return &comment.Comment{
		ID:      9,
		Author:  "Alice",
		Email:   "alice@example.com",
		Text:    "买药加微信",
		IP:      "10.0.0.1",
		Status:  comment.StatusWaiting,
		Created: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestReview_Request(t *testing.T) {
	t.Parallel()

	fc := &fakeCompleter{out: `{"approved": false, "reason": "广告"}`}
	r := New(fc, "")

	v, err := r.Review(context.Background(), waiting(), comment.Post{Title: "Go"})
	require.NoError(t, err)
	assert.Equal(t, Verdict{Approved: false, Reason: "广告"}, v)
	assert.Equal(t, comment.StatusSpam, v.Status())

	require.Len(t, fc.last.Messages, 2)
	assert.Equal(t, SystemPrompt, fc.last.Messages[0].Content)
	assert.Contains(t, fc.last.Messages[1].Content, "- 评论内容：买药加微信")
	assert.Contains(t, fc.last.Messages[1].Content, "- 所属文章：Go")
	assert.True(t, fc.last.JSON)
	assert.Equal(t, 0.3, fc.last.Temperature)
	assert.Equal(t, 200, fc.last.MaxTokens)
}

func TestReview_CustomPrompt(t *testing.T) {
	t.Parallel()

	fc := &fakeCompleter{out: `{"approved": true}`}
	r := New(fc, "{author} at {date}: {text} {status}")

	v, err := r.Review(context.Background(), waiting(), comment.Post{})
	require.NoError(t, err)
	assert.True(t, v.Approved)
	assert.Equal(t, comment.StatusApproved, v.Status())
	assert.Equal(t, "Alice at 2025-03-01 08:00:00: 买药加微信 {status}", fc.last.Messages[1].Content)
}

func TestReview_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		out  string
		err  error
		want error
	}{
		{name: "api error", err: &llm.APIError{StatusCode: 500, Transient: true}},
		{name: "not json", out: "approved", want: ErrMalformedVerdict},
		{name: "missing approved", out: `{"reason":"?"}`, want: ErrMalformedVerdict},
		{name: "wrong type", out: `{"approved":"yes"}`, want: ErrMalformedVerdict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := New(&fakeCompleter{out: tt.out, err: tt.err}, "")
			_, err := r.Review(context.Background(), waiting(), comment.Post{})
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
			if tt.err != nil {
				assert.True(t, llm.IsTransient(err))
			}
		})
	}
}

func TestReview_Disabled(t *testing.T) {
	t.Parallel()

	r := New(nil, "")
	assert.False(t, r.Enabled())
	_, err := r.Review(context.Background(), waiting(), comment.Post{})
	assert.True(t, errors.Is(err, ErrDisabled))

	var none *Reviewer
	assert.False(t, none.Enabled())
}

func TestVerdict_Label(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "✅ AI审核通过", Verdict{Approved: true}.Label())
	assert.Equal(t, "❌ AI审核拒绝（广告）", Verdict{Reason: "广告"}.Label())
}
