package comment

import (
	_ "embed"
	"fmt"
	"html"
	"os"
	"sort"
	"strings"
	"time"
)

// DefaultSubject is the reply mail subject used when none is configured.
const DefaultSubject = "您在「{blogName}」的评论收到了回复"

// DefaultOwnerTag marks replies written by the site owner.
const DefaultOwnerTag = `<span style="background:#e74c3c;color:#fff;padding:1px 6px;border-radius:3px;font-size:12px;margin-left:5px;">博主</span>`

// DefaultBody is the built-in HTML reply mail.
//
//go:embed templates/reply.html
var DefaultBody string

// Default push notification templates.
const (
	DefaultPushTitle = "博客「{siteTitle}」有新评论"
	DefaultPushTags  = "博客评论"
	DefaultPushShort = "{author} 评论了「{postTitle}」：{text}"
)

// DefaultPushContent is the Markdown body of a push notification.
const DefaultPushContent = "### 新评论通知\n\n" +
	"**文章：** [{postTitle}]({permalink})\n\n" +
	"---\n\n" +
	"| 项目 | 内容 |\n" +
	"| --- | --- |\n" +
	"| **昵称** | {author} |\n" +
	"| **邮箱** | {email} |\n" +
	"| **网站** | {url} |\n" +
	"| **IP** | {ip} |\n" +
	"| **时间** | {date} |\n" +
	"| **状态** | {status} |\n\n" +
	"---\n\n" +
	"**评论内容：**\n\n" +
	"> {text}\n\n" +
	"**AI审核：** {aiResult}\n"

// DateLayout formats comment times in push notifications.
const DateLayout = "2006-01-02 15:04:05"

// LoadBody reads a body template from path, or returns DefaultBody when
// path is empty.
func LoadBody(path string) (string, error) {
	if path == "" {
		return DefaultBody, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read mail template: %w", err)
	}
	return string(data), nil
}

// Vars maps placeholder names, without braces, to their values.
type Vars map[string]string

// Render replaces every {name} in tmpl with vars[name]. Unknown placeholders
// are left untouched and substituted values are never re-scanned.
func Render(tmpl string, vars Vars) string {
	if len(vars) == 0 {
		return tmpl
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", vars[k])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// FormatText escapes comment text for HTML and turns line breaks into <br />.
func FormatText(s string) string {
	return nl2br.Replace(html.EscapeString(s))
}

var nl2br = strings.NewReplacer(
	"\r\n", "<br />\r\n",
	"\n", "<br />\n",
	"\r", "<br />\r",
)

// Reply collects what the reply mail talks about.
type Reply struct {
	SiteTitle string
	SiteURL   string
	Post      Post
	Reply     *Comment
	Parent    *Comment
	OwnerTag  string // shown next to the author when IsOwner is set
	IsOwner   bool
	Now       time.Time
}

// ReplyVars returns the placeholders available to reply mail templates.
func ReplyVars(r Reply) Vars {
	tag := ""
	if r.IsOwner {
		tag = r.OwnerTag
	}
	return Vars{
		"blogName":        r.SiteTitle,
		"blogUrl":         r.SiteURL,
		"postTitle":       r.Post.Title,
		"postUrl":         r.Post.Permalink,
		"author":          r.Reply.Author,
		"authorTag":       tag,
		"replyContent":    FormatText(r.Reply.Text),
		"originalAuthor":  r.Parent.Author,
		"originalContent": FormatText(r.Parent.Text),
		"year":            r.Now.Format("2006"),
	}
}

// PushVars returns the placeholders available to push notification and
// review prompt templates. aiResult is empty when no review took place.
func PushVars(c *Comment, post Post, siteTitle string, status Status, aiResult string) Vars {
	return Vars{
		"author":    c.Author,
		"email":     c.Email,
		"url":       c.URL,
		"text":      c.Text,
		"postTitle": post.Title,
		"permalink": post.Permalink,
		"ip":        c.IP,
		"date":      c.Created.Format(DateLayout),
		"siteTitle": siteTitle,
		"status":    status.Label(),
		"aiResult":  aiResult,
	}
}
