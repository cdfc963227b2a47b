package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"ghazal/pkg/domain"
)

func (e *testEnv) physical(t *testing.T, title, price string, stock int) domain.Product {
	t.Helper()
	p, err := e.app.CreateProduct(context.Background(), ProductInput{
		Kind:  domain.KindPhysical,
		Title: title,
		Price: dec(price),
		Stock: stock,
	}, nil, nil)
	if err != nil {
		t.Fatalf("create physical product: %v", err)
	}
	return p
}

func (e *testEnv) ebook(t *testing.T, title, price string) domain.Product {
	t.Helper()
	p, err := e.app.CreateProduct(context.Background(), ProductInput{
		Kind:  domain.KindEbook,
		Title: title,
		Price: dec(price),
	}, nil, &Upload{Filename: "book.pdf", Body: strings.NewReader("%PDF-1.4")})
	if err != nil {
		t.Fatalf("create ebook: %v", err)
	}
	return p
}

func TestCreateProductStoresFiles(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.app.CreateProduct(ctx, ProductInput{Kind: domain.KindEbook, Title: "No File", Price: dec("5")}, nil, nil); !errors.Is(err, ErrEbookFileRequired) {
		t.Fatalf("expected ebook file required, got %v", err)
	}
	if _, err := env.app.CreateProduct(ctx, ProductInput{Kind: domain.KindPhysical, Title: "Cheap", Price: dec("1.999")}, nil, nil); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected invalid price, got %v", err)
	}
	p, err := env.app.CreateProduct(ctx, ProductInput{
		Kind:  domain.KindEbook,
		Title: "The Conference of the Birds",
		Price: dec("9.50"),
		Stock: 40,
	}, &Upload{Filename: "cover.PNG", Body: strings.NewReader("png")}, &Upload{Filename: "../birds.epub", Body: strings.NewReader("epub")})
	if err != nil {
		t.Fatalf("create ebook: %v", err)
	}
	if p.Stock != 0 {
		t.Fatalf("ebooks carry no stock, got %d", p.Stock)
	}
	if p.EbookFilename != "birds.epub" || p.EbookKey != "products/"+p.ID+"/ebook.epub" {
		t.Fatalf("unexpected ebook file fields %q %q", p.EbookFilename, p.EbookKey)
	}
	obj, ok := env.objects.Object(p.EbookKey)
	if !ok || obj.ContentType != "application/epub+zip" {
		t.Fatalf("expected stored epub, got %+v ok=%v", obj, ok)
	}
	if _, ok := env.objects.Object("products/" + p.ID + "/cover.png"); !ok {
		t.Fatalf("expected stored cover")
	}
	if p.CoverURL == "" {
		t.Fatalf("expected presigned cover url")
	}
	if _, err := env.app.CreateProduct(ctx, ProductInput{Kind: domain.KindEbook, Title: "Exe", Price: dec("1")}, nil, &Upload{Filename: "x.exe", Body: strings.NewReader("")}); !errors.Is(err, ErrUnsupportedFile) {
		t.Fatalf("expected unsupported file, got %v", err)
	}
}

func TestDeleteProductHidesFromShoppers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.physical(t, "Divan of Hafez", "20", 3)
	env.physical(t, "Masnavi", "25", 1)

	if err := env.app.DeleteProduct(p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	public, err := env.app.ListProducts(ctx, ProductQuery{}, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(public) != 1 || public[0].Title != "Masnavi" {
		t.Fatalf("expected only active product, got %+v", public)
	}
	all, err := env.app.ListProducts(ctx, ProductQuery{}, true)
	if err != nil || len(all) != 2 {
		t.Fatalf("admin should see inactive products, got %d %v", len(all), err)
	}
	if _, err := env.app.GetProduct(ctx, p.ID, false); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected inactive product hidden, got %v", err)
	}
	if _, err := env.app.ListProducts(ctx, ProductQuery{Kind: "vinyl"}, false); !errors.Is(err, ErrInvalidProductKind) {
		t.Fatalf("expected invalid kind, got %v", err)
	}
}

func TestUpdateProductPatch(t *testing.T) {
	env := newTestEnv(t)
	p := env.physical(t, "Rubaiyat", "12", 2)
	price, stock, inactive := dec("14.25"), 7, false
	updated, err := env.app.UpdateProduct(context.Background(), p.ID, ProductPatch{Price: &price, Stock: &stock, Active: &inactive}, nil)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.Price.Equal(price) || updated.Stock != 7 || updated.Active || updated.Title != "Rubaiyat" {
		t.Fatalf("unexpected update %+v", updated)
	}
	blank := " "
	if _, err := env.app.UpdateProduct(context.Background(), p.ID, ProductPatch{Title: &blank}, nil); !errors.Is(err, ErrTitleRequired) {
		t.Fatalf("expected title required, got %v", err)
	}
}

func TestEbookDownloadRequiresPurchase(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.signUp(t, "admin@example.com")
	buyer := env.signUp(t, "buyer@example.com")
	e := env.ebook(t, "Shahnameh", "8")

	if _, _, err := env.app.EbookDownloadURL(ctx, buyer, e.ID); !errors.Is(err, ErrNotPurchased) {
		t.Fatalf("expected not purchased, got %v", err)
	}
	if _, _, err := env.app.EbookDownloadURL(ctx, admin, e.ID); err != nil {
		t.Fatalf("admin download: %v", err)
	}

	buyer = env.fund(t, buyer, "10")
	if _, err := env.app.AddToCart(buyer, e.ID, 1); err != nil {
		t.Fatalf("add to cart: %v", err)
	}
	if _, err := env.app.Checkout(ctx, buyer, domain.PaymentWallet, ""); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	url, expires, err := env.app.EbookDownloadURL(ctx, buyer, e.ID)
	if err != nil {
		t.Fatalf("download after purchase: %v", err)
	}
	if !strings.Contains(url, e.EbookKey) || !strings.Contains(url, "filename=book.pdf") {
		t.Fatalf("unexpected url %q", url)
	}
	if got := expires.Sub(env.now); got != defaultDownloadURLTTL {
		t.Fatalf("expected 15 minute link, got %s", got)
	}
	library, err := env.app.Library(ctx, buyer)
	if err != nil || len(library) != 1 || library[0].ID != e.ID {
		t.Fatalf("expected ebook in library, got %+v %v", library, err)
	}
}
