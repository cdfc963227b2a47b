package app

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

func (a *App) parsePDF(ctx context.Context, path string) (string, int, error) {
	// pdftotext copes with more fonts and layouts than the Go reader.
	if a.pdftotext != "-" {
		text, pages, err := a.parsePDFWithPdftotext(ctx, path)
		if err == nil && strings.TrimSpace(text) != "" {
			return text, pages, nil
		}
	}
	return parsePDFWithGoLib(path)
}

// parsePDFWithPdftotext runs poppler's pdftotext. Pages are separated by
// form feeds in its output.
func (a *App) parsePDFWithPdftotext(ctx context.Context, path string) (string, int, error) {
	bin, err := exec.LookPath(a.pdftotext)
	if err != nil {
		return "", 0, fmt.Errorf("pdftotext not found: %w", err)
	}
	output, err := exec.CommandContext(ctx, bin, "-layout", "-enc", "UTF-8", path, "-").Output()
	if err != nil {
		return "", 0, fmt.Errorf("pdftotext failed: %w", err)
	}
	raw := strings.TrimRight(string(output), "\f\n ")
	if raw == "" {
		return "", 0, ErrNoText
	}
	parts := strings.Split(raw, "\f")
	pages := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = normalizeTextPreserveNewlines(p); p != "" {
			pages = append(pages, p)
		}
	}
	return strings.Join(pages, "\n\n"), len(parts), nil
}

func parsePDFWithGoLib(path string) (string, int, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("%w: open pdf: %v", ErrUnreadable, err)
	}
	defer file.Close()
	totalPages := reader.NumPage()
	var pages []string
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if text = normalizeTextPreserveNewlines(text); text != "" {
			pages = append(pages, text)
		}
	}
	if len(pages) == 0 {
		return "", totalPages, ErrNoText
	}
	return strings.Join(pages, "\n\n"), totalPages, nil
}

type epubContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type epubPackage struct {
	Manifest []struct {
		ID        string `xml:"id,attr"`
		Href      string `xml:"href,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"manifest>item"`
	Spine []struct {
		IDRef string `xml:"idref,attr"`
	} `xml:"spine>itemref"`
}

const (
	// maxEntryBytes caps how much of a single archive entry is inflated.
	maxEntryBytes = 32 << 20
	// maxPackageBytes caps container.xml and the OPF package document.
	maxPackageBytes = 1 << 20
	// markupBytesPerChar is the headroom allowed for tags and entities per
	// output character still wanted.
	markupBytesPerChar = 8
)

// parseEPUB reads the XHTML documents in spine order when the package
// document is present, else in archive name order. Reading stops once
// maxChars characters of text have been collected.
func parseEPUB(path string, maxChars int) (string, int, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return "", 0, fmt.Errorf("%w: open epub: %v", ErrUnreadable, err)
	}
	defer reader.Close()

	files := make(map[string]*zip.File, len(reader.File))
	for _, f := range reader.File {
		files[f.Name] = f
	}
	order := spineOrder(files)
	if len(order) == 0 {
		for _, f := range reader.File {
			if isHTMLName(f.Name) {
				order = append(order, f.Name)
			}
		}
		sort.Strings(order)
	}

	var sections []string
	collected := 0
	for _, name := range order {
		if maxChars > 0 && collected >= maxChars {
			break
		}
		f, ok := files[name]
		if !ok {
			continue
		}
		data, err := readZipFile(f, entryLimit(maxChars-collected))
		if err != nil {
			return "", 0, fmt.Errorf("read epub content: %w", err)
		}
		doc, err := html.Parse(bytes.NewReader(data))
		if err != nil {
			return "", 0, fmt.Errorf("parse epub html: %w", err)
		}
		if text := normalizeTextPreserveNewlines(extractText(doc)); text != "" {
			sections = append(sections, text)
			collected += utf8.RuneCountInString(text)
		}
	}
	if len(sections) == 0 {
		return "", 0, ErrNoText
	}
	return strings.Join(sections, "\n\n"), len(sections), nil
}

func spineOrder(files map[string]*zip.File) []string {
	container, ok := files["META-INF/container.xml"]
	if !ok {
		return nil
	}
	var c epubContainer
	if err := decodeZipXML(container, &c); err != nil || len(c.Rootfiles) == 0 {
		return nil
	}
	opfPath := c.Rootfiles[0].FullPath
	opf, ok := files[opfPath]
	if !ok {
		return nil
	}
	var pkg epubPackage
	if err := decodeZipXML(opf, &pkg); err != nil {
		return nil
	}
	hrefs := make(map[string]string, len(pkg.Manifest))
	for _, item := range pkg.Manifest {
		hrefs[item.ID] = item.Href
	}
	base := path.Dir(opfPath)
	var order []string
	for _, ref := range pkg.Spine {
		href, ok := hrefs[ref.IDRef]
		if !ok {
			continue
		}
		if i := strings.IndexByte(href, '#'); i >= 0 {
			href = href[:i]
		}
		order = append(order, path.Clean(path.Join(base, href)))
	}
	return order
}

func decodeZipXML(f *zip.File, v any) error {
	if f.UncompressedSize64 > maxPackageBytes {
		return fmt.Errorf("%s exceeds %d bytes", f.Name, maxPackageBytes)
	}
	data, err := readZipFile(f, maxPackageBytes)
	if err != nil {
		return err
	}
	return xml.Unmarshal(data, v)
}

// entryLimit sizes the read of one content document from the characters
// still wanted. The declared entry size is not trusted.
func entryLimit(remaining int) int64 {
	if remaining <= 0 {
		return maxEntryBytes
	}
	limit := int64(remaining)*markupBytesPerChar + 64<<10
	if limit > maxEntryBytes {
		return maxEntryBytes
	}
	return limit
}

// readZipFile inflates at most limit bytes of f. Longer entries are cut
// short; the HTML parser tolerates the truncated tail.
func readZipFile(f *zip.File, limit int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, limit))
}

func isHTMLName(name string) bool {
	name = strings.ToLower(name)
	return strings.HasSuffix(name, ".xhtml") || strings.HasSuffix(name, ".html") || strings.HasSuffix(name, ".htm")
}

func parseText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return normalizeTextPreserveNewlines(string(data)), nil
}

var invisibleRunes = strings.NewReplacer(
	"\uFEFF", "",
	"\u200B", "",
	"\u200C", "",
	"\u200D", "",
	"\u2060", "",
	"\u00AD", "",
	"\u00A0", " ",
)

// normalizeTextPreserveNewlines repairs UTF-8, drops control and zero-width
// characters, collapses runs of spaces and keeps at most one blank line
// between paragraphs.
func normalizeTextPreserveNewlines(text string) string {
	text = strings.ToValidUTF8(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = invisibleRunes.Replace(text)
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if len(out) > 0 {
				blank = true
			}
			continue
		}
		if blank {
			out = append(out, "")
			blank = false
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

var blockElements = map[string]bool{
	"p": true, "br": true, "div": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "section": true,
}

func extractText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" || node.Data == "head" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode && blockElements[node.Data] {
			buf.WriteString("\n")
		}
	}
	walk(n)
	return buf.String()
}
