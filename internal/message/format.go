// Package message turns fetched posts into notification text.
//
// It strips the HTML markup the source API embeds in post content, detects
// reposts of other accounts, and renders the Discord message with the
// 2000-character limit enforced on every branch.
package message

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/BTreeMap/TruthWatch/internal/models"
)

const (
	// MaxMessageRunes is Discord's hard limit on message content length.
	MaxMessageRunes = 2000
	// contentBudget leaves a safety margin under the hard limit when
	// sizing the post body between header and footer.
	contentBudget = 1950
	// footerTimeLayout renders the post timestamp for humans.
	footerTimeLayout = "January 2, 2006 at 3:04 PM MST"
)

var (
	blankLineRuns = regexp.MustCompile(`\n\s*\n`)
	spaceRuns     = regexp.MustCompile(`[ \t]+`)
	bareURL       = regexp.MustCompile(`https?://[^\s<>]+`)
)

// CleanHTML strips markup from post content and normalizes it for Discord:
// block-level breaks become line breaks, runs of blank lines collapse to one,
// and bare URLs are wrapped in <...> to suppress preview embeds.
func CleanHTML(content string) string {
	if content == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	text := content
	if err == nil {
		doc.Find("br").ReplaceWithHtml("\n")
		doc.Find("p").Each(func(_ int, s *goquery.Selection) {
			s.AfterHtml("\n\n")
		})
		text = doc.Text()
	}

	text = blankLineRuns.ReplaceAllString(text, "\n\n")
	text = spaceRuns.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)
	return wrapBareURLs(text)
}

// wrapBareURLs wraps plain http(s) URLs in angle brackets unless they are
// already enclosed or part of a markdown link.
func wrapBareURLs(text string) string {
	matches := bareURL.FindAllStringIndex(text, -1)
	if len(matches) == 0 {
		return text
	}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		b.WriteString(text[last:start])
		enclosed := false
		if start > 0 {
			switch text[start-1] {
			case '(', '[', '<':
				enclosed = true
			}
		}
		if enclosed {
			b.WriteString(text[start:end])
		} else {
			b.WriteString("<")
			b.WriteString(text[start:end])
			b.WriteString(">")
		}
		last = end
	}
	b.WriteString(text[last:])
	return b.String()
}

// IsRepost reports whether the post's stripped text starts with a retweet
// marker ("RT " or "RT@", case-insensitive). The statuses fetch already
// excludes structured reblogs; this catches retweet text cross-posted from
// other platforms.
func IsRepost(content string) bool {
	if content == "" {
		return false
	}
	text := strings.ToUpper(strings.TrimSpace(CleanHTML(content)))
	return strings.HasPrefix(text, "RT ") || strings.HasPrefix(text, "RT@")
}

// Formatter renders posts into Discord messages.
type Formatter struct {
	// PostType names the kind of post in the header, e.g. "post".
	PostType string
	// FallbackUsername is used when the post carries no author username.
	FallbackUsername string
}

// Format renders the post as a single message: a header naming the post type
// and author, the cleaned body, and a timestamp footer. The body is truncated
// with a trailing ellipsis to fit the budget, and an emergency guard caps the
// whole message at MaxMessageRunes on every branch.
func (f Formatter) Format(post models.Post) (string, error) {
	if post.ID == "" {
		return "", models.ErrMissingPostID
	}
	if post.CreatedAt.IsZero() {
		return "", models.ErrUnusableTimestamp
	}

	username := post.Account.Username
	if username == "" {
		username = f.FallbackUsername
	}
	display := post.Account.DisplayName
	if display == "" {
		display = username
	}

	header := fmt.Sprintf("**New %s from %s (@%s)**\n", capitalize(f.PostType), display, username)
	footer := fmt.Sprintf("\n*Posted at: %s*", post.CreatedAt.Format(footerTimeLayout))
	content := CleanHTML(post.Content)

	budget := contentBudget - utf8.RuneCountInString(header) - utf8.RuneCountInString(footer)
	if runes := []rune(content); len(runes) > budget {
		if budget > 3 {
			content = string(runes[:budget-3]) + "..."
		} else {
			// An oversized header or footer leaves no room for content;
			// the emergency guard below bounds the rest.
			content = ""
		}
	}

	msg := header + content + footer
	if runes := []rune(msg); len(runes) > MaxMessageRunes {
		slog.Warn("Formatter.Format: message too long, applying emergency truncation", "id", post.ID, "length", len(runes))
		msg = string(runes[:MaxMessageRunes-3]) + "..."
	}
	return msg, nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
