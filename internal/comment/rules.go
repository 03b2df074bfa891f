package comment

import "errors"

// Reasons a reply does not produce a notification mail.
var (
	ErrNotReply      = errors.New("comment is not a reply")
	ErrParentMissing = errors.New("parent comment not found")
	ErrParentNoEmail = errors.New("parent comment has no email")
	ErrParentIsOwner = errors.New("parent comment was written by the site owner")
	ErrSameRecipient = errors.New("reply and parent share an email address")
	ErrNotApproved   = errors.New("reply is not approved")
)

// ReplyNotice decides whether the author of parent should hear about reply.
// A nil error means a mail is due once the reply is approved.
func ReplyNotice(reply, parent *Comment, ownerID int64) error {
	if !reply.IsReply() {
		return ErrNotReply
	}
	if parent == nil {
		return ErrParentMissing
	}
	if parent.Email == "" {
		return ErrParentNoEmail
	}
	if parent.AuthorID != 0 && parent.AuthorID == ownerID {
		return ErrParentIsOwner
	}
	if parent.Email == reply.Email {
		return ErrSameRecipient
	}
	return nil
}

// IsOwnerReply reports whether reply was written by the site owner, either
// as its recorded author or as the user logged in when it was posted.
func IsOwnerReply(reply *Comment, ownerID, actingUserID int64) bool {
	if reply.AuthorID != 0 && reply.AuthorID == ownerID {
		return true
	}
	return actingUserID != 0 && actingUserID == ownerID
}

// ApprovalTransition reports whether moving from prev to next approves a
// comment that was not approved before.
func ApprovalTransition(prev, next Status) bool {
	return next == StatusApproved && prev != StatusApproved
}

// Lookup names a piece of post data that may be unavailable.
type Lookup string

const (
	LookupPostTitle Lookup = "post_title"
	LookupPermalink Lookup = "permalink"
)

// Fallbacks holds the value used for each Lookup that fails.
type Fallbacks map[Lookup]string

// DefaultFallbacks returns the standard fallbacks for a site.
func DefaultFallbacks(siteURL string) Fallbacks {
	return Fallbacks{
		LookupPostTitle: "未知文章",
		LookupPermalink: siteURL,
	}
}

// Resolve returns value, or the fallback for l when value is empty or err
// is set.
func (f Fallbacks) Resolve(l Lookup, value string, err error) string {
	if err != nil || value == "" {
		return f[l]
	}
	return value
}

// ResolvePost fills missing post fields from f.
func (f Fallbacks) ResolvePost(p *Post) Post {
	var out Post
	if p != nil {
		out = *p
	}
	out.Title = f.Resolve(LookupPostTitle, out.Title, nil)
	out.Permalink = f.Resolve(LookupPermalink, out.Permalink, nil)
	return out
}
