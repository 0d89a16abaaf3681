package documentloaders_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/lmbatch/documentloaders"
)

func writeBytes(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestReadTextFile(t *testing.T) {
	tests := []struct {
		name         string
		data         []byte
		wantContent  string
		wantEncoding string
	}{
		{
			name:         "plain utf-8",
			data:         []byte("héllo wörld"),
			wantContent:  "héllo wörld",
			wantEncoding: "utf-8",
		},
		{
			name:         "utf-8 with BOM",
			data:         append([]byte{0xEF, 0xBB, 0xBF}, []byte("hello")...),
			wantContent:  "hello",
			wantEncoding: "utf-8",
		},
		{
			name:         "utf-16 little endian",
			data:         []byte{0xFF, 0xFE, 0x68, 0x00, 0x69, 0x00},
			wantContent:  "hi",
			wantEncoding: "utf-16",
		},
		{
			name:         "utf-16 big endian",
			data:         []byte{0xFE, 0xFF, 0x00, 0x68, 0x00, 0x69},
			wantContent:  "hi",
			wantEncoding: "utf-16",
		},
		{
			name:         "windows-1252 accents",
			data:         []byte{0x63, 0x61, 0x66, 0xE9},
			wantContent:  "café",
			wantEncoding: "windows-1252",
		},
		{
			name:         "windows-1252 smart quotes",
			data:         []byte{0x93, 0x68, 0x69, 0x94},
			wantContent:  "“hi”",
			wantEncoding: "windows-1252",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeBytes(t, "input.txt", tt.data)

			content, encoding, err := documentloaders.ReadTextFile(path)
			require.NoError(t, err)
			assert.Equal(t, tt.wantContent, content)
			assert.Equal(t, tt.wantEncoding, encoding)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, _, err := documentloaders.ReadTextFile(filepath.Join(t.TempDir(), "absent.txt"))
		require.Error(t, err)
	})
}

func TestReadPrompt(t *testing.T) {
	t.Run("trims surrounding whitespace", func(t *testing.T) {
		path := writeBytes(t, "prompt.txt", []byte("\n  Summarize the following text.  \n\n"))

		prompt, err := documentloaders.ReadPrompt(path)
		require.NoError(t, err)
		assert.Equal(t, "Summarize the following text.", prompt)
	})

	t.Run("blank prompt fails", func(t *testing.T) {
		path := writeBytes(t, "prompt.txt", []byte("   \n\t\n"))

		_, err := documentloaders.ReadPrompt(path)
		require.ErrorIs(t, err, documentloaders.ErrEmptyPrompt)
	})

	t.Run("missing prompt fails", func(t *testing.T) {
		_, err := documentloaders.ReadPrompt(filepath.Join(t.TempDir(), "absent.txt"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read prompt file")
	})
}

func TestReadSource(t *testing.T) {
	t.Run("text file with metadata", func(t *testing.T) {
		path := writeBytes(t, "notes.txt", []byte("some notes"))

		doc, err := documentloaders.ReadSource(documentloaders.Source{Path: path, Name: "notes.txt"})
		require.NoError(t, err)
		assert.Equal(t, "some notes", doc.PageContent)
		assert.Equal(t, "notes.txt", doc.Metadata["source"])
		assert.Equal(t, path, doc.Metadata["path"])
		assert.Equal(t, "utf-8", doc.Metadata["encoding"])
		assert.Equal(t, int64(len("some notes")), doc.Metadata["file_size"])
		assert.NotZero(t, doc.Metadata["mod_time"])
	})

	t.Run("missing file is a per-source error", func(t *testing.T) {
		_, err := documentloaders.ReadSource(documentloaders.Source{
			Path: filepath.Join(t.TempDir(), "absent.txt"),
			Name: "absent.txt",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read")
	})
}
