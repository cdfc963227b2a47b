package server

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"ghazal/pkg/domain"
	"ghazal/services/api/internal/app"
)

type productPatchRequest struct {
	Title       *string          `json:"title" validate:"omitempty,max=200"`
	Author      *string          `json:"author" validate:"omitempty,max=200"`
	Description *string          `json:"description" validate:"omitempty,max=5000"`
	Category    *string          `json:"category" validate:"omitempty,max=100"`
	Price       *decimal.Decimal `json:"price"`
	Stock       *int             `json:"stock"`
	Active      *bool            `json:"active"`
}

var errInvalidForm = errors.New("invalid form data")

func productQuery(r *http.Request) app.ProductQuery {
	q := r.URL.Query()
	return app.ProductQuery{
		Kind:     domain.ProductKind(strings.ToLower(strings.TrimSpace(q.Get("kind")))),
		Category: q.Get("category"),
		Query:    q.Get("q"),
		Limit:    queryInt(r, "limit"),
		Offset:   queryInt(r, "offset"),
	}
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.app.ListProducts(r.Context(), productQuery(r), false)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, products)
}

func (s *Server) handleAdminListProducts(w http.ResponseWriter, r *http.Request, _ domain.User) {
	products, err := s.app.ListProducts(r.Context(), productQuery(r), true)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, products)
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.app.GetProduct(r.Context(), r.PathValue("id"), s.viewer(r).IsAdmin())
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (s *Server) handleLibrary(w http.ResponseWriter, r *http.Request, user domain.User) {
	products, err := s.app.Library(r.Context(), user)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeList(w, products)
}

func (s *Server) handleEbookDownload(w http.ResponseWriter, r *http.Request, user domain.User) {
	url, expires, err := s.app.EbookDownloadURL(r.Context(), user, r.PathValue("id"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"url":       url,
		"expiresAt": expires,
	})
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request, admin domain.User) {
	if !s.parseUpload(w, r) {
		return
	}
	in, err := productInputFromForm(r)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	cover, closeCover, err := formUpload(r, "cover")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	defer closeCover()
	ebook, closeEbook, err := formUpload(r, "ebook")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	defer closeEbook()

	product, err := s.app.CreateProduct(r.Context(), in, cover, ebook)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "product_created", "success", "admin_id", admin.ID, "product_id", product.ID)
	writeJSON(w, http.StatusCreated, product)
}

func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request, admin domain.User) {
	var (
		patch app.ProductPatch
		cover *app.Upload
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if !s.parseUpload(w, r) {
			return
		}
		var err error
		patch, err = productPatchFromForm(r)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		var closeCover func()
		cover, closeCover, err = formUpload(r, "cover")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid form data")
			return
		}
		defer closeCover()
	} else {
		var req productPatchRequest
		if !s.decodeJSON(w, r, &req) {
			return
		}
		patch = app.ProductPatch{
			Title:       req.Title,
			Author:      req.Author,
			Description: req.Description,
			Category:    req.Category,
			Price:       req.Price,
			Stock:       req.Stock,
			Active:      req.Active,
		}
	}
	product, err := s.app.UpdateProduct(r.Context(), r.PathValue("id"), patch, cover)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "product_updated", "success", "admin_id", admin.ID, "product_id", product.ID)
	writeJSON(w, http.StatusOK, product)
}

func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request, admin domain.User) {
	id := r.PathValue("id")
	if err := s.app.DeleteProduct(id); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "product_deleted", "success", "admin_id", admin.ID, "product_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return false
	}
	return true
}

// formUpload returns nil when the field is absent.
func formUpload(r *http.Request, field string) (*app.Upload, func(), error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, func() {}, nil
	}
	if err != nil {
		return nil, func() {}, err
	}
	return &app.Upload{Filename: header.Filename, Size: header.Size, Body: file}, closer(file), nil
}

func closer(f multipart.File) func() {
	return func() { _ = f.Close() }
}

func productInputFromForm(r *http.Request) (app.ProductInput, error) {
	in := app.ProductInput{
		Kind:        domain.ProductKind(strings.ToLower(strings.TrimSpace(r.FormValue("kind")))),
		Title:       r.FormValue("title"),
		Author:      r.FormValue("author"),
		Description: r.FormValue("description"),
		Category:    r.FormValue("category"),
	}
	price, err := decimal.NewFromString(strings.TrimSpace(r.FormValue("price")))
	if err != nil {
		return in, app.ErrInvalidPrice
	}
	in.Price = price
	if raw := strings.TrimSpace(r.FormValue("stock")); raw != "" {
		stock, err := strconv.Atoi(raw)
		if err != nil {
			return in, app.ErrInvalidStock
		}
		in.Stock = stock
	}
	return in, nil
}

func productPatchFromForm(r *http.Request) (app.ProductPatch, error) {
	var patch app.ProductPatch
	text := func(key string) *string {
		if _, ok := r.MultipartForm.Value[key]; !ok {
			return nil
		}
		v := r.FormValue(key)
		return &v
	}
	patch.Title = text("title")
	patch.Author = text("author")
	patch.Description = text("description")
	patch.Category = text("category")
	if raw := text("price"); raw != nil {
		price, err := decimal.NewFromString(strings.TrimSpace(*raw))
		if err != nil {
			return patch, app.ErrInvalidPrice
		}
		patch.Price = &price
	}
	if raw := text("stock"); raw != nil {
		stock, err := strconv.Atoi(strings.TrimSpace(*raw))
		if err != nil {
			return patch, app.ErrInvalidStock
		}
		patch.Stock = &stock
	}
	if raw := text("active"); raw != nil {
		active, err := strconv.ParseBool(strings.TrimSpace(*raw))
		if err != nil {
			return patch, errInvalidForm
		}
		patch.Active = &active
	}
	return patch, nil
}
