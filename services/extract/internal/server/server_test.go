package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ghazal/services/extract/internal/app"
)

func newHandler(t *testing.T, maxUpload int64) http.Handler {
	t.Helper()
	srv, err := New(Config{
		App:            app.New(app.Config{PdftotextPath: "-", TempDir: t.TempDir()}),
		MaxUploadBytes: maxUpload,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv.Router()
}

func upload(t *testing.T, h http.Handler, field, filename string, content io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		fw, err := mw.CreateFormFile(field, filename)
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		if _, err := io.Copy(fw, content); err != nil {
			t.Fatalf("copy: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/extract", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestExtractText(t *testing.T) {
	rec := upload(t, newHandler(t, 0), "file", "notes.txt", strings.NewReader("Hello   world"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["text"] != "Hello world" || body["format"] != "txt" || body["filename"] != "notes.txt" || body["truncated"] != false {
		t.Fatalf("unexpected body: %v", body)
	}
	if body["characters"].(float64) != 11 {
		t.Fatalf("characters = %v", body["characters"])
	}
}

func TestExtractErrors(t *testing.T) {
	h := newHandler(t, 1024)
	cases := []struct {
		name     string
		field    string
		filename string
		content  string
		status   int
		code     string
	}{
		{"missing file", "file", "", "", http.StatusBadRequest, "EXTRACT_FILE_REQUIRED"},
		{"wrong field", "upload", "a.txt", "x", http.StatusBadRequest, "EXTRACT_FILE_REQUIRED"},
		{"unsupported", "file", "a.docx", "x", http.StatusUnsupportedMediaType, "EXTRACT_UNSUPPORTED_FORMAT"},
		{"blank", "file", "a.txt", "   ", http.StatusUnprocessableEntity, "EXTRACT_NO_TEXT"},
		{"broken pdf", "file", "a.pdf", "not a pdf", http.StatusUnprocessableEntity, "EXTRACT_NO_TEXT"},
		{"too large", "file", "a.txt", strings.Repeat("x", 4096), http.StatusRequestEntityTooLarge, "EXTRACT_FILE_TOO_LARGE"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := upload(t, h, tc.field, tc.filename, strings.NewReader(tc.content))
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tc.status, rec.Body.String())
			}
			if code := decodeBody(t, rec)["code"]; code != tc.code {
				t.Fatalf("code = %v, want %s", code, tc.code)
			}
		})
	}
}
