package media

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBytes(data []byte) func(io.Writer) error {
	return func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}
}

func TestFileStorage_Save(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "media")
	s := NewFileStorage(dir)

	tests := []struct {
		name     string
		data     []byte
		fileName string
		wantExt  string
	}{
		{"png sniffed", pngHeader, "", ".png"},
		{"pdf sniffed", []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n"), "x.bin", ".pdf"},
		{"unknown bytes use original name", []byte{0x00, 0x01, 0x02, 0x03}, "Notes.MD", ".md"},
		{"unknown bytes no name", []byte{0x00, 0x01, 0x02, 0x03}, "", ".bin"},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := s.Save("chan_"+string(rune('a'+i)), tt.fileName, writeBytes(tt.data))
			require.NoError(t, err)
			assert.Equal(t, tt.wantExt, filepath.Ext(ref))

			got, err := os.ReadFile(ref)
			require.NoError(t, err)
			assert.Equal(t, tt.data, got)
		})
	}

	leftovers, err := filepath.Glob(filepath.Join(dir, ".tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "temp files renamed or removed")
}

func TestFileStorage_Save_StreamsInChunks(t *testing.T) {
	// Arrange
	s := NewFileStorage(t.TempDir())
	payload := append(append([]byte(nil), pngHeader...), bytes.Repeat([]byte{0xAB}, 1<<20)...)

	// Act
	ref, err := s.Save("big_1", "", func(w io.Writer) error {
		r := bytes.NewReader(payload)
		buf := make([]byte, 4096)
		_, err := io.CopyBuffer(w, r, buf)
		return err
	})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, ".png", filepath.Ext(ref))
	info, err := os.Stat(ref)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), info.Size())
}

func TestFileStorage_Save_WriteErrorLeavesNothing(t *testing.T) {
	// Arrange
	dir := t.TempDir()
	s := NewFileStorage(dir)
	boom := errors.New("connection reset")

	// Act
	ref, err := s.Save("chan_1", "", func(w io.Writer) error {
		_, _ = w.Write(pngHeader)
		return boom
	})

	// Assert
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, ref)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "a_b_c", sanitize("a/b:c"))
	assert.Equal(t, "ai_news_102", sanitize("ai_news_102"))
}
