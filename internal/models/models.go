// Package models defines the core data structures for TruthWatch.
//
// It includes the Post shape decoded from the Mastodon-compatible statuses
// API and the ledger record persisted for every processed post.
package models

import (
	"errors"
	"time"
)

// MediaType identifies the kind of a media attachment.
type MediaType string

const (
	// MediaTypeImage is a still image attachment.
	MediaTypeImage MediaType = "image"
	// MediaTypeVideo is a video attachment.
	MediaTypeVideo MediaType = "video"
	// MediaTypeGifv is an animated image served as a looping video.
	MediaTypeGifv MediaType = "gifv"
)

// Error variables for better error handling and testability
var (
	ErrMissingPostID     = errors.New("post is missing an identifier")
	ErrUnusableTimestamp = errors.New("post has no usable creation timestamp")
)

// Account is the author of a Post.
type Account struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
}

// MediaAttachment is a single media item attached to a Post.
type MediaAttachment struct {
	Type       MediaType `json:"type"`
	URL        string    `json:"url"`
	PreviewURL string    `json:"preview_url,omitempty"`
}

// Relayable reports whether this attachment kind is forwarded to the
// notification channel. Unknown kinds are ignored.
func (m MediaAttachment) Relayable() bool {
	switch m.Type {
	case MediaTypeImage, MediaTypeVideo, MediaTypeGifv:
		return true
	default:
		return false
	}
}

// BestURL returns the full media URL, falling back to the preview URL.
func (m MediaAttachment) BestURL() string {
	if m.URL != "" {
		return m.URL
	}
	return m.PreviewURL
}

// Post is a single status fetched from the source account's timeline.
// It is read-only input; posts themselves are never persisted, only the
// LedgerRecord derived from them.
type Post struct {
	ID               string            `json:"id"`
	CreatedAt        time.Time         `json:"created_at"`
	Content          string            `json:"content"` // may contain HTML markup
	Account          Account           `json:"account"`
	MediaAttachments []MediaAttachment `json:"media_attachments,omitempty"`
}

// RelayableMedia returns the attachments that should be forwarded, in order.
func (p Post) RelayableMedia() []MediaAttachment {
	var out []MediaAttachment
	for _, m := range p.MediaAttachments {
		if m.Relayable() {
			out = append(out, m)
		}
	}
	return out
}

// LedgerRecord is the durable row written for every delivered-or-filtered
// post. ID is the primary key; a second write for the same ID overwrites.
type LedgerRecord struct {
	ID          string            `json:"id"`
	Content     string            `json:"content"`
	CreatedAt   time.Time         `json:"created_at"`
	SentAt      time.Time         `json:"sent_at"` // time of the ledger write, not post creation
	Username    string            `json:"username"`
	DisplayName string            `json:"display_name,omitempty"`
	Media       []MediaAttachment `json:"media_attachments,omitempty"`
}
