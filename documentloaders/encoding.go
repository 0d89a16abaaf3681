package documentloaders

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Byte order marks recognized before falling back to legacy encodings.
var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// ReadTextFile reads a file and decodes it to valid UTF-8, trying
// UTF-8 first, then a BOM-marked UTF-16 variant, then Windows-1252.
// The last step cannot fail, so every readable file decodes. Returns
// the content and the name of the encoding that matched.
func ReadTextFile(path string) (string, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	content, encoding := decodeText(data)
	return content, encoding, nil
}

func decodeText(data []byte) (string, string) {
	switch {
	case bytes.HasPrefix(data, bomUTF8):
		rest := data[len(bomUTF8):]
		if utf8.Valid(rest) {
			return string(rest), "utf-8"
		}

	case bytes.HasPrefix(data, bomUTF16LE), bytes.HasPrefix(data, bomUTF16BE):
		decoder := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
		if decoded, err := decoder.Bytes(data); err == nil {
			return string(decoded), "utf-16"
		}

	case utf8.Valid(data):
		return string(data), "utf-8"
	}

	// Windows-1252 maps every byte, undefined slots become U+FFFD.
	decoded, _ := charmap.Windows1252.NewDecoder().Bytes(data)
	return string(decoded), "windows-1252"
}

// ReadPrompt reads and trims a prompt file. A prompt that is missing,
// unreadable, or blank stops the whole run before any job starts.
func ReadPrompt(path string) (string, error) {
	content, _, err := ReadTextFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt file %s: %w", path, err)
	}

	prompt := strings.TrimSpace(content)
	if prompt == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptyPrompt, path)
	}
	return prompt, nil
}
