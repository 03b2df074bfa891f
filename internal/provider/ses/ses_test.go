package ses

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/shineum/comment-notifier/internal/email"
)

// mockSESClient implements SendEmailAPI for testing.
type mockSESClient struct {
	sendFn    func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	callCount int
	lastInput *sesv2.SendEmailInput
}

func (m *mockSESClient) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.callCount++
	m.lastInput = params
	if m.sendFn != nil {
		return m.sendFn(ctx, params, optFns...)
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("test-message-id")}, nil
}

func replyMail() *email.Email {
	return &email.Email{
		Envelope: email.Envelope{
			FromAddress: "blog@example.com",
			FromName:    "Pig Blog",
			ToAddress:   "reader@example.com",
			ToName:      "Reader",
		},
		Message: email.Message{
			Subject: "Your comment received a reply",
			Body:    "<p>Hello</p>",
		},
	}
}

func TestName(t *testing.T) {
	t.Parallel()
	p := NewWithClient(&mockSESClient{})
	if got := p.Name(); got != "ses" {
		t.Errorf("Name(): got %q, want %q", got, "ses")
	}
}

func TestSend_HTMLEmail(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient(mock)

	e := replyMail()
	if err := p.Send(context.Background(), e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if mock.callCount != 1 {
		t.Errorf("call count: got %d, want 1", mock.callCount)
	}
	if e.MessageID != "test-message-id" {
		t.Errorf("MessageID: got %q", e.MessageID)
	}

	input := mock.lastInput
	if got := *input.FromEmailAddress; got != `"Pig Blog" <blog@example.com>` {
		t.Errorf("FromEmailAddress: got %q", got)
	}
	if got := input.Destination.ToAddresses; len(got) != 1 || got[0] != `"Reader" <reader@example.com>` {
		t.Errorf("ToAddresses: got %v", got)
	}

	simple := input.Content.Simple
	if simple == nil {
		t.Fatal("expected simple email content, got nil")
	}
	if got := *simple.Subject.Data; got != "Your comment received a reply" {
		t.Errorf("Subject: got %q", got)
	}
	if got := *simple.Subject.Charset; got != "UTF-8" {
		t.Errorf("Subject charset: got %q", got)
	}
	if got := *simple.Body.Html.Data; got != "<p>Hello</p>" {
		t.Errorf("Html: got %q", got)
	}
	if simple.Body.Text != nil {
		t.Error("expected no text body")
	}
}

func TestSend_EncodesNonASCIIName(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient(mock)

	e := replyMail()
	e.Envelope.FromName = "小猪的博客"
	if err := p.Send(context.Background(), e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	from := *mock.lastInput.FromEmailAddress
	if !strings.HasPrefix(from, "=?utf-8?") || !strings.HasSuffix(from, "<blog@example.com>") {
		t.Errorf("FromEmailAddress: got %q", from)
	}
}

func TestSend_NoNames(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient(mock)

	e := replyMail()
	e.Envelope.FromName = ""
	e.Envelope.ToName = ""
	if err := p.Send(context.Background(), e); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := *mock.lastInput.FromEmailAddress; got != "<blog@example.com>" {
		t.Errorf("FromEmailAddress: got %q", got)
	}
}

func TestSend_APIErrorNotRetried(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{
		sendFn: func(context.Context, *sesv2.SendEmailInput, ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			return nil, errors.New("Throttling: rate exceeded")
		},
	}
	p := NewWithClient(mock)

	e := replyMail()
	err := p.Send(context.Background(), e)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "rate exceeded") {
		t.Errorf("error: got %v", err)
	}
	if mock.callCount != 1 {
		t.Errorf("call count: got %d, want 1", mock.callCount)
	}
	if e.MessageID != "" {
		t.Errorf("MessageID should stay empty, got %q", e.MessageID)
	}
}

func TestSend_InvalidEnvelope(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient(mock)

	e := replyMail()
	e.Envelope.ToAddress = ""
	err := p.Send(context.Background(), e)
	if !errors.Is(err, email.ErrEmptyAddress) {
		t.Errorf("expected ErrEmptyAddress, got %v", err)
	}
	if mock.callCount != 0 {
		t.Errorf("call count: got %d, want 0", mock.callCount)
	}
}
