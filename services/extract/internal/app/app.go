package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const (
	DefaultMaxCharacters = 200000
	defaultPdftotext     = "pdftotext"
)

const (
	FormatPDF  = "pdf"
	FormatEPUB = "epub"
	FormatTXT  = "txt"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format (pdf, epub or txt)")
	ErrNoText            = errors.New("no text could be extracted")
	ErrUnreadable        = errors.New("file could not be read")
)

// Config holds runtime configuration for text extraction.
type Config struct {
	MaxCharacters int
	// PdftotextPath names the poppler binary; "-" disables it.
	PdftotextPath string
	TempDir       string
}

// App extracts plain text from uploaded books.
type App struct {
	maxCharacters int
	pdftotext     string
	tempDir       string
}

// Result is the extraction output. Pages is set for PDFs, Sections for EPUBs.
type Result struct {
	Filename   string `json:"filename"`
	Format     string `json:"format"`
	Text       string `json:"text"`
	Pages      int    `json:"pages,omitempty"`
	Sections   int    `json:"sections,omitempty"`
	Characters int    `json:"characters"`
	Truncated  bool   `json:"truncated"`
}

func New(cfg Config) *App {
	maxChars := cfg.MaxCharacters
	if maxChars <= 0 {
		maxChars = DefaultMaxCharacters
	}
	pdftotext := strings.TrimSpace(cfg.PdftotextPath)
	if pdftotext == "" {
		pdftotext = defaultPdftotext
	}
	return &App{maxCharacters: maxChars, pdftotext: pdftotext, tempDir: cfg.TempDir}
}

// DetectFormat maps a filename to a supported format.
func DetectFormat(filename string) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return FormatPDF, nil
	case ".epub":
		return FormatEPUB, nil
	case ".txt", ".text":
		return FormatTXT, nil
	}
	return "", ErrUnsupportedFormat
}

// Extract spools r to a temp file and extracts its text.
func (a *App) Extract(ctx context.Context, filename string, r io.Reader) (Result, error) {
	format, err := DetectFormat(filename)
	if err != nil {
		return Result{}, err
	}
	tmp, err := os.CreateTemp(a.tempDir, "extract-*"+filepath.Ext(filename))
	if err != nil {
		return Result{}, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return Result{}, fmt.Errorf("spool upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Result{}, fmt.Errorf("spool upload: %w", err)
	}
	return a.ExtractFile(ctx, filename, format, tmp.Name())
}

// ExtractFile extracts text from a file already on disk.
func (a *App) ExtractFile(ctx context.Context, filename, format, path string) (Result, error) {
	res := Result{Filename: filepath.Base(filename), Format: format}
	var (
		text string
		err  error
	)
	switch format {
	case FormatPDF:
		text, res.Pages, err = a.parsePDF(ctx, path)
	case FormatEPUB:
		text, res.Sections, err = parseEPUB(path, a.maxCharacters)
	case FormatTXT:
		text, err = parseText(path)
	default:
		return Result{}, ErrUnsupportedFormat
	}
	if err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrNoText
	}
	res.Text, res.Truncated = truncateRunes(text, a.maxCharacters)
	res.Characters = utf8.RuneCountInString(res.Text)
	return res, nil
}

func truncateRunes(text string, limit int) (string, bool) {
	if utf8.RuneCountInString(text) <= limit {
		return text, false
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:limit])), true
}
