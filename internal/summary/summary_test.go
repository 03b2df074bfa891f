package summary

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func TestPrepare(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		max     int
		want    string
	}{
		{name: "short", content: "hello", max: 10, want: "hello"},
		{name: "marker stripped", content: "<!--markdown-->## Go", max: 10, want: "## Go"},
		{name: "marker only at start", content: "a<!--markdown-->", max: 100, want: "a<!--markdown-->"},
		{name: "exact length", content: "你好世界", max: 4, want: "你好世界"},
		{name: "truncated by characters", content: "你好世界", max: 2, want: "你好\n...(内容已截断)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Prepare(tt.content, tt.max))
		})
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	fc := &fakeCompleter{out: "一篇关于 Go 的文章。"}
	s := New(fc, "", 0)

	got, err := s.Summarize(context.Background(), "Go 入门", "<!--markdown-->"+strings.Repeat("字", DefaultMaxInput+10))
	require.NoError(t, err)
	assert.Equal(t, "一篇关于 Go 的文章。", got)

	require.Len(t, fc.last.Messages, 1)
	msg := fc.last.Messages[0]
	assert.Equal(t, "user", msg.Role)
	assert.Contains(t, msg.Content, "标题：Go 入门")
	assert.True(t, strings.HasSuffix(msg.Content, truncatedNote))
	assert.NotContains(t, msg.Content, markdownMarker)
	assert.False(t, fc.last.JSON)
	assert.Equal(t, 0.7, fc.last.Temperature)
	assert.Equal(t, 500, fc.last.MaxTokens)
}

func TestSummarize_CustomPrompt(t *testing.T) {
	t.Parallel()

	fc := &fakeCompleter{out: "ok"}
	s := New(fc, "T={title} C={content}", 3)

	_, err := s.Summarize(context.Background(), "t", "abcdef")
	require.NoError(t, err)
	assert.Equal(t, "T=t C=abc\n...(内容已截断)", fc.last.Messages[0].Content)
}

func TestSummarize_Errors(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "", 0).Summarize(context.Background(), "t", "text")
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = New(&fakeCompleter{}, "", 0).Summarize(context.Background(), "t", "<!--markdown-->  \n")
	assert.ErrorIs(t, err, ErrEmptyContent)

	apiErr := &llm.APIError{StatusCode: 401, Message: "bad key"}
	_, err = New(&fakeCompleter{err: apiErr}, "", 0).Summarize(context.Background(), "t", "text")
	assert.True(t, errors.Is(err, apiErr))
	assert.Contains(t, err.Error(), "bad key")
}
