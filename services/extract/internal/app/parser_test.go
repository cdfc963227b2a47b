package app

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestNormalizeTextPreserveNewlines(t *testing.T) {
	raw := "\uFEFF  Title\u00A0\x00\t\nLine\u200B one\u0007\r\n\r\n\r\nSecond\u2060 line\u00AD"
	got := normalizeTextPreserveNewlines(raw)
	want := "Title\nLine one\n\nSecond line"
	if got != want {
		t.Fatalf("normalizeTextPreserveNewlines() = %q, want %q", got, want)
	}
}

func TestDetectFormat(t *testing.T) {
	for name, want := range map[string]string{"a.PDF": FormatPDF, "b.epub": FormatEPUB, "c.txt": FormatTXT} {
		got, err := DetectFormat(name)
		if err != nil || got != want {
			t.Fatalf("DetectFormat(%q) = %q, %v", name, got, err)
		}
	}
	if _, err := DetectFormat("notes.docx"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestExtractText(t *testing.T) {
	a := New(Config{TempDir: t.TempDir()})
	res, err := a.Extract(context.Background(), "poem.txt", strings.NewReader("\uFEFFOne  line\r\n\r\nTwo"))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Format != FormatTXT || res.Text != "One line\n\nTwo" || res.Characters != 13 || res.Truncated {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestExtractTruncates(t *testing.T) {
	a := New(Config{MaxCharacters: 5, TempDir: t.TempDir()})
	res, err := a.Extract(context.Background(), "long.txt", strings.NewReader("غزلغزلغزل"))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !res.Truncated || res.Text != "غزلغز" || res.Characters != 5 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestExtractEmptyText(t *testing.T) {
	a := New(Config{TempDir: t.TempDir()})
	if _, err := a.Extract(context.Background(), "blank.txt", strings.NewReader(" \n\t ")); !errors.Is(err, ErrNoText) {
		t.Fatalf("expected ErrNoText, got %v", err)
	}
}

func writeEPUB(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "book.epub")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create epub: %v", err)
	}
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close epub: %v", err)
	}
	return path
}

const containerXML = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles><rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/></rootfiles>
</container>`

const contentOPF = `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <manifest>
    <item id="a" href="text/a_last.xhtml" media-type="application/xhtml+xml"/>
    <item id="b" href="text/b_first.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine><itemref idref="b"/><itemref idref="a"/></spine>
</package>`

func TestParseEPUBFollowsSpine(t *testing.T) {
	path := writeEPUB(t, map[string]string{
		"META-INF/container.xml":    containerXML,
		"OEBPS/content.opf":         contentOPF,
		"OEBPS/text/a_last.xhtml":   `<html><head><title>x</title><style>p{}</style></head><body><p>The end.</p></body></html>`,
		"OEBPS/text/b_first.xhtml":  `<html><body><h1>Chapter One</h1><p>It began<script>alert(1)</script> here.</p></body></html>`,
		"OEBPS/text/unlisted.xhtml": `<html><body><p>Not in spine.</p></body></html>`,
	})
	text, sections, err := parseEPUB(path, 0)
	if err != nil {
		t.Fatalf("parseEPUB: %v", err)
	}
	if sections != 2 {
		t.Fatalf("sections = %d, want 2", sections)
	}
	want := "Chapter One\nIt began here.\n\nThe end."
	if text != want {
		t.Fatalf("text = %q, want %q", text, want)
	}
}

func TestParseEPUBWithoutPackageUsesNameOrder(t *testing.T) {
	path := writeEPUB(t, map[string]string{
		"ch2.html":  `<p>second</p>`,
		"ch1.html":  `<p>first</p>`,
		"cover.jpg": "binary",
	})
	text, sections, err := parseEPUB(path, 0)
	if err != nil {
		t.Fatalf("parseEPUB: %v", err)
	}
	if sections != 2 || text != "first\n\nsecond" {
		t.Fatalf("text = %q sections = %d", text, sections)
	}
}

func TestParseEPUBBoundsInflatedContent(t *testing.T) {
	path := writeEPUB(t, map[string]string{
		"ch1.xhtml": "<p>" + strings.Repeat("a ", 8<<20) + "</p>",
		"ch2.xhtml": "<p>never read</p>",
	})
	text, sections, err := parseEPUB(path, 1000)
	if err != nil {
		t.Fatalf("parseEPUB: %v", err)
	}
	if sections != 1 {
		t.Fatalf("sections = %d, want 1", sections)
	}
	if limit := int(entryLimit(1000)); len(text) > limit {
		t.Fatalf("text length %d exceeds entry limit %d", len(text), limit)
	}
	if strings.Contains(text, "never read") {
		t.Fatalf("expected reading to stop after the character budget")
	}
}

func TestParsePDFUsesPdftotextPages(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub")
	}
	dir := t.TempDir()
	stub := filepath.Join(dir, "pdftotext")
	script := "#!/bin/sh\nprintf 'Page one  text\\fPage two\\f'\n"
	if err := os.WriteFile(stub, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	a := New(Config{PdftotextPath: stub, TempDir: dir})
	res, err := a.Extract(context.Background(), "book.pdf", strings.NewReader("%PDF-1.4 stub"))
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Pages != 2 || res.Text != "Page one text\n\nPage two" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestParsePDFFallbackRejectsGarbage(t *testing.T) {
	a := New(Config{PdftotextPath: "-", TempDir: t.TempDir()})
	_, err := a.Extract(context.Background(), "broken.pdf", strings.NewReader("not a pdf"))
	if !errors.Is(err, ErrUnreadable) {
		t.Fatalf("expected ErrUnreadable, got %v", err)
	}
}
