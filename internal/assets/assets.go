// Package assets provides the document attached to file upload controls.
package assets

import (
	_ "embed"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

//go:embed sample.pdf
var samplePDF []byte

// File is an in-memory file ready to be attached to an upload control.
type File struct {
	Name     string
	MIMEType string
	Content  []byte
}

// DefaultSample returns the embedded sample document.
func DefaultSample() File {
	content := make([]byte, len(samplePDF))
	copy(content, samplePDF)
	return File{Name: "sample.pdf", MIMEType: "application/pdf", Content: content}
}

// LoadSample returns the document at path, or the embedded sample when path
// is empty. A leading "~" is expanded.
func LoadSample(path string) (File, error) {
	if path == "" {
		return DefaultSample(), nil
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to expand sample document path: %w", err)
	}
	content, err := os.ReadFile(expanded)
	if err != nil {
		return File{}, fmt.Errorf("failed to read sample document: %w", err)
	}
	name := filepath.Base(expanded)
	mimeType := mime.TypeByExtension(filepath.Ext(name))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return File{Name: name, MIMEType: mimeType, Content: content}, nil
}
