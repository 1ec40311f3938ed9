package classifier

import (
	"testing"

	"github.com/blockedby/channel-harvester/internal/config"
	"github.com/blockedby/channel-harvester/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestClassifier_IsTopical(t *testing.T) {
	c := New(config.DefaultKeywords)

	tests := []struct {
		name string
		text string
		want bool
	}{
		{"empty", "", false},
		{"keyword uppercase", "check this GPT prompt", true},
		{"multi word keyword", "Curso de Engenharia de Prompt", true},
		{"accented keyword", "Automação com planilhas", true},
		{"substring inside word", "send me an email", true},
		{"no keyword", "bom dia pessoal", false},
		{"whitespace only", "   ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.IsTopical(tt.text))
		})
	}
}

func TestClassifier_Classify(t *testing.T) {
	c := New([]string{" Prompt ", "", "LLM"})

	assert.Equal(t, []string{"prompt", "llm"}, c.Keywords())
	assert.Equal(t, CategoryEmpty, c.Classify(""))
	assert.Equal(t, CategoryEmpty, c.Classify(" \n"))
	assert.Equal(t, CategoryPrompt, c.Classify("new llm release"))
	assert.Equal(t, CategoryGeneral, c.Classify("weather today"))
}

func TestClassifier_EmptyKeywordList(t *testing.T) {
	c := New(nil)
	assert.False(t, c.IsTopical("anything at all"))
}

func TestContentTypeOf(t *testing.T) {
	tests := []struct {
		name  string
		media models.Media
		want  models.ContentType
	}{
		{"no media", models.Media{Kind: models.MediaNone}, models.ContentText},
		{"photo", models.Media{Kind: models.MediaPhoto}, models.ContentImage},
		{"video", models.Media{Kind: models.MediaVideo}, models.ContentVideo},
		{"audio", models.Media{Kind: models.MediaAudio}, models.ContentAudio},
		{"document video mime", models.Media{Kind: models.MediaDocument, MimeType: "video/mp4"}, models.ContentVideo},
		{"document image mime", models.Media{Kind: models.MediaDocument, MimeType: "IMAGE/PNG"}, models.ContentImage},
		{"document audio mime", models.Media{Kind: models.MediaDocument, MimeType: "audio/ogg"}, models.ContentAudio},
		{"document pdf", models.Media{Kind: models.MediaDocument, MimeType: "application/pdf"}, models.ContentDocument},
		{"document without mime", models.Media{Kind: models.MediaDocument}, models.ContentDocument},
		{"unknown metadata", models.Media{Kind: models.MediaUnknown}, models.ContentDocument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ContentTypeOf(tt.media)
			assert.Equal(t, tt.want, got)
			if tt.media.Present() {
				assert.NotEqual(t, models.ContentText, got, "media never classifies as text")
			}
		})
	}
}
