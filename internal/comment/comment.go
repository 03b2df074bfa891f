// Package comment holds the blog comment model and the rules that decide who
// gets notified about what.
package comment

import (
	"fmt"
	"time"
)

// Status is the moderation state of a comment.
type Status string

const (
	StatusApproved Status = "approved"
	StatusWaiting  Status = "waiting"
	StatusSpam     Status = "spam"
)

var statusLabels = map[Status]string{
	StatusApproved: "已通过",
	StatusWaiting:  "待审核",
	StatusSpam:     "垃圾评论",
}

// Label returns the display name used in push notifications. Unknown
// statuses are returned as is.
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

// ParseStatus converts a raw status string, rejecting unknown values.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown comment status %q", s)
	}
	return st, nil
}

// Comment is one comment as reported by the blog.
type Comment struct {
	ID       int64     `json:"id" validate:"required,gt=0"`
	PostID   int64     `json:"post_id"`
	ParentID int64     `json:"parent_id"`
	AuthorID int64     `json:"author_id"`
	Author   string    `json:"author"`
	Email    string    `json:"email"`
	URL      string    `json:"url"`
	IP       string    `json:"ip"`
	Text     string    `json:"text"`
	Status   Status    `json:"status"`
	Created  time.Time `json:"created"`
}

// IsReply reports whether c answers another comment.
func (c *Comment) IsReply() bool {
	return c.ParentID != 0
}

// Post is the article a comment belongs to. Any field may be missing.
type Post struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Permalink string `json:"permalink"`
	AuthorID  int64  `json:"author_id"`
}

// OwnerID returns the post author, or fallback when the post or its author
// is unknown.
func (p *Post) OwnerID(fallback int64) int64 {
	if p == nil || p.AuthorID == 0 {
		return fallback
	}
	return p.AuthorID
}
