package app

import (
	"fmt"

	"github.com/shopspring/decimal"

	"ghazal/pkg/domain"
)

// CartLine is one cart entry with its current product and line total.
type CartLine struct {
	Product   domain.Product  `json:"product"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"lineTotal"`
}

// Cart is the user's cart priced at current product prices.
type Cart struct {
	Items     []CartLine      `json:"items"`
	Total     decimal.Decimal `json:"total"`
	ItemCount int             `json:"itemCount"`
}

// Cart returns the user's cart. Lines whose product vanished are skipped.
func (a *App) Cart(user domain.User) (Cart, error) {
	items, err := a.store.ListCartItems(user.ID)
	if err != nil {
		return Cart{}, fmt.Errorf("list cart: %w", err)
	}
	cart := Cart{Items: make([]CartLine, 0, len(items)), Total: decimal.Zero}
	for _, item := range items {
		p, ok, err := a.store.GetProduct(item.ProductID)
		if err != nil {
			return Cart{}, fmt.Errorf("fetch product: %w", err)
		}
		if !ok {
			continue
		}
		line := CartLine{
			Product:   p,
			Quantity:  item.Quantity,
			LineTotal: p.Price.Mul(decimal.NewFromInt(int64(item.Quantity))),
		}
		cart.Items = append(cart.Items, line)
		cart.Total = cart.Total.Add(line.LineTotal)
		cart.ItemCount += item.Quantity
	}
	return cart, nil
}

// AddToCart adds qty to any quantity already in the cart.
func (a *App) AddToCart(user domain.User, productID string, qty int) (Cart, error) {
	if qty < 1 {
		return Cart{}, ErrInvalidQuantity
	}
	current, err := a.cartQuantity(user.ID, productID)
	if err != nil {
		return Cart{}, err
	}
	return a.setCartQuantity(user, productID, current+qty)
}

// UpdateCartItem sets the quantity of a line. Zero removes it.
func (a *App) UpdateCartItem(user domain.User, productID string, qty int) (Cart, error) {
	if qty < 0 {
		return Cart{}, ErrInvalidQuantity
	}
	if qty == 0 {
		return a.RemoveFromCart(user, productID)
	}
	return a.setCartQuantity(user, productID, qty)
}

// RemoveFromCart drops a line from the cart.
func (a *App) RemoveFromCart(user domain.User, productID string) (Cart, error) {
	if err := a.store.DeleteCartItem(user.ID, productID); err != nil {
		return Cart{}, fmt.Errorf("delete cart item: %w", err)
	}
	return a.Cart(user)
}

func (a *App) cartQuantity(userID, productID string) (int, error) {
	items, err := a.store.ListCartItems(userID)
	if err != nil {
		return 0, fmt.Errorf("list cart: %w", err)
	}
	for _, item := range items {
		if item.ProductID == productID {
			return item.Quantity, nil
		}
	}
	return 0, nil
}

// setCartQuantity enforces ebooks at quantity 1 and physical lines at or below stock.
func (a *App) setCartQuantity(user domain.User, productID string, qty int) (Cart, error) {
	p, ok, err := a.store.GetProduct(productID)
	if err != nil {
		return Cart{}, fmt.Errorf("fetch product: %w", err)
	}
	if !ok {
		return Cart{}, ErrProductNotFound
	}
	if !p.Active {
		return Cart{}, ErrProductUnavailable
	}
	switch p.Kind {
	case domain.KindEbook:
		qty = 1
	case domain.KindPhysical:
		if qty > p.Stock {
			return Cart{}, fmt.Errorf("%w: %d left", ErrInsufficientStock, p.Stock)
		}
	}
	now := a.now()
	if err := a.store.SaveCartItem(domain.CartItem{
		UserID:    user.ID,
		ProductID: productID,
		Quantity:  qty,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return Cart{}, fmt.Errorf("save cart item: %w", err)
	}
	return a.Cart(user)
}
