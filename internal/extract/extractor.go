// Package extract reads raw text from user files.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"tenantrag/internal/domain"
)

// Extractor reads plain text, markdown and PDF files.
type Extractor struct{}

func New() *Extractor { return &Extractor{} }

// Supported reports whether path has an extension the extractor reads.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".markdown", ".pdf":
		return true
	}
	return false
}

func (e *Extractor) ExtractText(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".markdown":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		if !utf8.Valid(data) {
			data = bytes.ToValidUTF8(data, []byte("�"))
		}
		return string(data), nil
	case ".pdf":
		return readPDF(path)
	default:
		return "", fmt.Errorf("%w: %s", domain.ErrUnsupportedFile, filepath.Base(path))
	}
}

func readPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf %s: %w", filepath.Base(path), err)
	}
	defer f.Close()
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf %s: %w", filepath.Base(path), err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("read pdf %s: %w", filepath.Base(path), err)
	}
	return buf.String(), nil
}
