// Package classifier decides whether message text is on topic and which content type a message has.
package classifier

import (
	"strings"

	"github.com/blockedby/channel-harvester/internal/models"
)

// Category is the text-only classification of a message.
type Category string

const (
	CategoryEmpty   Category = "empty"   // no text
	CategoryPrompt  Category = "prompt"  // matches a topical keyword
	CategoryGeneral Category = "general" // text without a keyword match
)

// Classifier matches text against a fixed keyword list.
// It is immutable after construction and safe for concurrent use.
type Classifier struct {
	keywords []string
}

// New creates a classifier. Keywords are lower-cased, blanks are dropped.
func New(keywords []string) *Classifier {
	kw := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			kw = append(kw, k)
		}
	}
	return &Classifier{keywords: kw}
}

// Keywords returns a copy of the normalised keyword list.
func (c *Classifier) Keywords() []string {
	return append([]string(nil), c.keywords...)
}

// IsTopical reports whether any keyword occurs in text as a case-insensitive substring.
// Matching is not word-bounded: "ai" matches "email".
func (c *Classifier) IsTopical(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, k := range c.keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// Classify returns the text category.
func (c *Classifier) Classify(text string) Category {
	switch {
	case strings.TrimSpace(text) == "":
		return CategoryEmpty
	case c.IsTopical(text):
		return CategoryPrompt
	default:
		return CategoryGeneral
	}
}

// ContentTypeOf maps the media variant of a message to its content type.
func ContentTypeOf(m models.Media) models.ContentType {
	switch m.Kind {
	case models.MediaNone:
		return models.ContentText
	case models.MediaPhoto:
		return models.ContentImage
	case models.MediaVideo:
		return models.ContentVideo
	case models.MediaAudio:
		return models.ContentAudio
	case models.MediaDocument:
		return byMimeType(m.MimeType)
	default:
		// attachment without usable metadata
		return models.ContentDocument
	}
}

func byMimeType(mime string) models.ContentType {
	mime = strings.ToLower(mime)
	switch {
	case strings.HasPrefix(mime, "video/"):
		return models.ContentVideo
	case strings.HasPrefix(mime, "image/"):
		return models.ContentImage
	case strings.HasPrefix(mime, "audio/"):
		return models.ContentAudio
	default:
		return models.ContentDocument
	}
}
