package app

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ghazal/internal/util"
	"ghazal/pkg/domain"
	"ghazal/pkg/store"
)

const (
	defaultProductLimit = 24
	maxProductLimit     = 100
)

var (
	ebookTypes = map[string]string{
		".pdf":  "application/pdf",
		".epub": "application/epub+zip",
	}
	coverTypes = map[string]string{
		".jpg":  "image/jpeg",
		".jpeg": "image/jpeg",
		".png":  "image/png",
		".webp": "image/webp",
	}
)

// Upload is a file received with a catalog request.
type Upload struct {
	Filename string
	Size     int64
	Body     io.Reader
}

// ProductInput describes a new catalog product.
type ProductInput struct {
	Kind        domain.ProductKind
	Title       string
	Author      string
	Description string
	Category    string
	Price       decimal.Decimal
	Stock       int
}

// ProductPatch updates a product. Nil fields are left untouched.
type ProductPatch struct {
	Title       *string
	Author      *string
	Description *string
	Category    *string
	Price       *decimal.Decimal
	Stock       *int
	Active      *bool
}

// ProductQuery filters the public catalog.
type ProductQuery struct {
	Kind     domain.ProductKind
	Category string
	Query    string
	Limit    int
	Offset   int
}

func validPrice(p decimal.Decimal) bool {
	return !p.IsNegative() && p.Equal(p.Round(2))
}

// ListProducts returns catalog products newest first. Inactive products are
// only listed for admins.
func (a *App) ListProducts(ctx context.Context, q ProductQuery, admin bool) ([]domain.Product, error) {
	if q.Kind != "" && !q.Kind.Valid() {
		return nil, ErrInvalidProductKind
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultProductLimit
	}
	if limit > maxProductLimit {
		limit = maxProductLimit
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	products, err := a.store.ListProducts(store.ProductFilter{
		Kind:            q.Kind,
		Category:        strings.TrimSpace(q.Category),
		Query:           q.Query,
		IncludeInactive: admin,
		Limit:           limit,
		Offset:          offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	for i := range products {
		a.withCoverURL(ctx, &products[i])
	}
	return products, nil
}

// GetProduct returns one product. Inactive products are hidden from non-admins.
func (a *App) GetProduct(ctx context.Context, id string, admin bool) (domain.Product, error) {
	p, ok, err := a.store.GetProduct(id)
	if err != nil {
		return domain.Product{}, fmt.Errorf("fetch product: %w", err)
	}
	if !ok || (!p.Active && !admin) {
		return domain.Product{}, ErrProductNotFound
	}
	a.withCoverURL(ctx, &p)
	return p, nil
}

func (a *App) withCoverURL(ctx context.Context, p *domain.Product) {
	if p.CoverKey == "" {
		return
	}
	url, err := a.objects.PresignGet(ctx, p.CoverKey, a.coverURLTTL, "")
	if err != nil {
		util.LoggerFromContext(ctx).Warn("presign cover failed", "product_id", p.ID, "err", err)
		return
	}
	p.CoverURL = url
}

// CreateProduct adds a product and stores its files under products/<id>/.
func (a *App) CreateProduct(ctx context.Context, in ProductInput, cover, ebook *Upload) (domain.Product, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.Product{}, ErrTitleRequired
	}
	if !in.Kind.Valid() {
		return domain.Product{}, ErrInvalidProductKind
	}
	if !validPrice(in.Price) {
		return domain.Product{}, ErrInvalidPrice
	}
	if in.Stock < 0 {
		return domain.Product{}, ErrInvalidStock
	}
	if in.Kind == domain.KindEbook && ebook == nil {
		return domain.Product{}, ErrEbookFileRequired
	}
	now := a.now()
	p := domain.Product{
		ID:          util.NewID(),
		Kind:        in.Kind,
		Title:       title,
		Author:      strings.TrimSpace(in.Author),
		Description: strings.TrimSpace(in.Description),
		Category:    strings.TrimSpace(in.Category),
		Price:       in.Price,
		Stock:       in.Stock,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if p.Kind == domain.KindEbook {
		p.Stock = 0
		key, name, err := a.putProductFile(ctx, p.ID, "ebook", ebook, ebookTypes)
		if err != nil {
			return domain.Product{}, err
		}
		p.EbookKey, p.EbookFilename = key, name
	}
	if cover != nil {
		key, _, err := a.putProductFile(ctx, p.ID, "cover", cover, coverTypes)
		if err != nil {
			return domain.Product{}, err
		}
		p.CoverKey = key
	}
	if err := a.store.SaveProduct(p); err != nil {
		return domain.Product{}, fmt.Errorf("save product: %w", err)
	}
	a.withCoverURL(ctx, &p)
	return p, nil
}

func (a *App) putProductFile(ctx context.Context, productID, kind string, up *Upload, allowed map[string]string) (string, string, error) {
	name := filepath.Base(strings.TrimSpace(up.Filename))
	ext := strings.ToLower(filepath.Ext(name))
	contentType, ok := allowed[ext]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedFile, ext)
	}
	key := path.Join("products", productID, kind+ext)
	size := up.Size
	if size <= 0 {
		size = -1
	}
	if err := a.objects.Put(ctx, key, up.Body, size, contentType); err != nil {
		return "", "", fmt.Errorf("store %s: %w", kind, err)
	}
	return key, name, nil
}

// UpdateProduct applies a patch and optionally replaces the cover.
func (a *App) UpdateProduct(ctx context.Context, id string, patch ProductPatch, cover *Upload) (domain.Product, error) {
	p, ok, err := a.store.GetProduct(id)
	if err != nil {
		return domain.Product{}, fmt.Errorf("fetch product: %w", err)
	}
	if !ok {
		return domain.Product{}, ErrProductNotFound
	}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return domain.Product{}, ErrTitleRequired
		}
		p.Title = title
	}
	if patch.Author != nil {
		p.Author = strings.TrimSpace(*patch.Author)
	}
	if patch.Description != nil {
		p.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Category != nil {
		p.Category = strings.TrimSpace(*patch.Category)
	}
	if patch.Price != nil {
		if !validPrice(*patch.Price) {
			return domain.Product{}, ErrInvalidPrice
		}
		p.Price = *patch.Price
	}
	if patch.Stock != nil && p.Kind == domain.KindPhysical {
		if *patch.Stock < 0 {
			return domain.Product{}, ErrInvalidStock
		}
		p.Stock = *patch.Stock
	}
	if patch.Active != nil {
		p.Active = *patch.Active
	}
	if cover != nil {
		key, _, err := a.putProductFile(ctx, p.ID, "cover", cover, coverTypes)
		if err != nil {
			return domain.Product{}, err
		}
		p.CoverKey = key
	}
	p.UpdatedAt = a.now()
	if err := a.store.SaveProduct(p); err != nil {
		return domain.Product{}, fmt.Errorf("save product: %w", err)
	}
	a.withCoverURL(ctx, &p)
	return p, nil
}

// DeleteProduct deactivates a product. Rows stay so order history keeps its references.
func (a *App) DeleteProduct(id string) error {
	p, ok, err := a.store.GetProduct(id)
	if err != nil {
		return fmt.Errorf("fetch product: %w", err)
	}
	if !ok {
		return ErrProductNotFound
	}
	if !p.Active {
		return nil
	}
	p.Active = false
	p.UpdatedAt = a.now()
	if err := a.store.SaveProduct(p); err != nil {
		return fmt.Errorf("save product: %w", err)
	}
	return nil
}

// Library lists the ebooks the user owns.
func (a *App) Library(ctx context.Context, user domain.User) ([]domain.Product, error) {
	products, err := a.store.ListPurchasedEbooks(user.ID)
	if err != nil {
		return nil, fmt.Errorf("list library: %w", err)
	}
	for i := range products {
		a.withCoverURL(ctx, &products[i])
	}
	return products, nil
}

// EbookDownloadURL returns a short-lived link to an owned ebook.
func (a *App) EbookDownloadURL(ctx context.Context, user domain.User, productID string) (string, time.Time, error) {
	p, ok, err := a.store.GetProduct(productID)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("fetch product: %w", err)
	}
	if !ok || p.Kind != domain.KindEbook || p.EbookKey == "" {
		return "", time.Time{}, ErrProductNotFound
	}
	if !user.IsAdmin() {
		owned, err := a.ownsEbook(user.ID, productID)
		if err != nil {
			return "", time.Time{}, err
		}
		if !owned {
			return "", time.Time{}, ErrNotPurchased
		}
	}
	url, err := a.objects.PresignGet(ctx, p.EbookKey, a.downloadURLTTL, p.EbookFilename)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("presign ebook: %w", err)
	}
	return url, a.now().Add(a.downloadURLTTL), nil
}

func (a *App) ownsEbook(userID, productID string) (bool, error) {
	owned, err := a.store.ListPurchasedEbooks(userID)
	if err != nil {
		return false, fmt.Errorf("list library: %w", err)
	}
	for _, p := range owned {
		if p.ID == productID {
			return true, nil
		}
	}
	return false, nil
}
