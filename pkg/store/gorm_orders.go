package store

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"ghazal/pkg/domain"
)

// PlaceOrder writes a checkout atomically.
func (s *GormStore) PlaceOrder(in PlaceOrderInput) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, item := range in.Order.Items {
			if item.Kind != domain.KindPhysical {
				continue
			}
			res := tx.Model(&ProductModel{}).
				Where("id = ? AND active = ? AND stock >= ?", item.ProductID, true, item.Quantity).
				Updates(map[string]any{
					"stock":      gorm.Expr("stock - ?", item.Quantity),
					"updated_at": in.Order.CreatedAt,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("product %s: %w", item.ProductID, ErrInsufficientStock)
			}
		}
		if in.WalletDebit.IsPositive() {
			if err := adjustBalance(tx, in.Order.UserID, in.WalletDebit.Neg()); err != nil {
				return err
			}
		}
		order := orderToModel(in.Order)
		if err := tx.Create(&order).Error; err != nil {
			return translateErr(err)
		}
		if len(in.Order.Items) > 0 {
			items := make([]OrderItemModel, 0, len(in.Order.Items))
			for _, item := range in.Order.Items {
				items = append(items, orderItemToModel(item))
			}
			if err := tx.Create(&items).Error; err != nil {
				return translateErr(err)
			}
		}
		payment := transactionToModel(in.Transaction)
		if err := tx.Create(&payment).Error; err != nil {
			return translateErr(err)
		}
		return tx.Delete(&CartItemModel{}, "user_id = ?", in.Order.UserID).Error
	})
}

// GetOrder returns an order with its items and payment record.
func (s *GormStore) GetOrder(id string) (domain.Order, bool, error) {
	orders, err := s.loadOrders(s.db.Where("id = ?", id))
	if err != nil {
		return domain.Order{}, false, err
	}
	if len(orders) == 0 {
		return domain.Order{}, false, nil
	}
	return orders[0], true, nil
}

// ListOrdersByUser returns a buyer's orders newest first.
func (s *GormStore) ListOrdersByUser(userID string) ([]domain.Order, error) {
	return s.loadOrders(s.db.Where("user_id = ?", userID))
}

// ListOrders returns all orders, optionally filtered by status.
func (s *GormStore) ListOrders(status domain.OrderStatus) ([]domain.Order, error) {
	if status == "" {
		return s.loadOrders(s.db)
	}
	return s.loadOrders(s.db.Where("status = ?", string(status)))
}

func (s *GormStore) loadOrders(query *gorm.DB) ([]domain.Order, error) {
	return loadOrdersTx(query, s.db)
}

func loadOrdersTx(query, db *gorm.DB) ([]domain.Order, error) {
	var models []OrderModel
	if err := query.Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return []domain.Order{}, nil
	}
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	var itemModels []OrderItemModel
	if err := db.Where("order_id IN ?", ids).Order("id ASC").Find(&itemModels).Error; err != nil {
		return nil, err
	}
	var paymentModels []TransactionModel
	if err := db.Where("order_id IN ?", ids).Find(&paymentModels).Error; err != nil {
		return nil, err
	}
	itemsByOrder := make(map[string][]domain.OrderItem, len(models))
	for _, m := range itemModels {
		itemsByOrder[m.OrderID] = append(itemsByOrder[m.OrderID], orderItemFromModel(m))
	}
	paymentByOrder := make(map[string]domain.Transaction, len(paymentModels))
	for _, m := range paymentModels {
		paymentByOrder[m.OrderID] = transactionFromModel(m)
	}
	orders := make([]domain.Order, 0, len(models))
	for _, m := range models {
		order := orderFromModel(m)
		order.Items = itemsByOrder[m.ID]
		if order.Items == nil {
			order.Items = []domain.OrderItem{}
		}
		if payment, ok := paymentByOrder[m.ID]; ok {
			p := payment
			order.Transaction = &p
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// UpdateOrderStatus moves an order between statuses and applies the
// requested restock, refund and payment completion in one transaction.
func (s *GormStore) UpdateOrderStatus(in UpdateOrderStatusInput) (domain.Order, error) {
	at := in.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	var updated domain.Order
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&OrderModel{}).
			Where("id = ? AND status = ?", in.OrderID, string(in.From)).
			Updates(map[string]any{"status": string(in.To), "updated_at": at})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&OrderModel{}).Where("id = ?", in.OrderID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrNotFound
			}
			return ErrConflict
		}
		orders, err := loadOrdersTx(tx.Where("id = ?", in.OrderID), tx)
		if err != nil {
			return err
		}
		if len(orders) == 0 {
			return ErrNotFound
		}
		order := orders[0]
		if in.Restock {
			for _, item := range order.Items {
				if item.Kind != domain.KindPhysical {
					continue
				}
				if err := tx.Model(&ProductModel{}).Where("id = ?", item.ProductID).
					Updates(map[string]any{
						"stock":      gorm.Expr("stock + ?", item.Quantity),
						"updated_at": at,
					}).Error; err != nil {
					return err
				}
			}
		}
		if in.Refund.IsPositive() {
			if err := adjustBalance(tx, order.UserID, in.Refund); err != nil {
				return err
			}
		}
		if in.CompletePayment && order.Transaction != nil {
			if err := tx.Model(&TransactionModel{}).Where("id = ?", order.Transaction.ID).
				Updates(map[string]any{
					"status":     string(domain.TransactionCompleted),
					"updated_at": at,
				}).Error; err != nil {
				return err
			}
			order.Transaction.Status = domain.TransactionCompleted
			order.Transaction.UpdatedAt = at
		}
		updated = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return updated, nil
}

// ListPurchasedEbooks returns ebooks appearing in the user's non-cancelled orders.
func (s *GormStore) ListPurchasedEbooks(userID string) ([]domain.Product, error) {
	var models []ProductModel
	err := s.db.Model(&ProductModel{}).
		Where("product_models.kind = ?", string(domain.KindEbook)).
		Where(`EXISTS (
			SELECT 1 FROM order_item_models oi
			JOIN order_models o ON o.id = oi.order_id
			WHERE oi.product_id = product_models.id
			AND o.user_id = ?
			AND o.status <> ?
		)`, userID, string(domain.OrderCancelled)).
		Order("product_models.title ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.Product, 0, len(models))
	for _, m := range models {
		res = append(res, productFromModel(m))
	}
	return res, nil
}

func orderToModel(o domain.Order) OrderModel {
	return OrderModel{
		ID:              o.ID,
		UserID:          o.UserID,
		Status:          string(o.Status),
		Total:           o.Total,
		PaymentMethod:   string(o.PaymentMethod),
		ShippingAddress: o.ShippingAddress,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func orderFromModel(m OrderModel) domain.Order {
	return domain.Order{
		ID:              m.ID,
		UserID:          m.UserID,
		Status:          domain.OrderStatus(m.Status),
		Total:           m.Total,
		PaymentMethod:   domain.PaymentMethod(m.PaymentMethod),
		ShippingAddress: m.ShippingAddress,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func orderItemToModel(i domain.OrderItem) OrderItemModel {
	return OrderItemModel{
		ID:        i.ID,
		OrderID:   i.OrderID,
		ProductID: i.ProductID,
		Kind:      string(i.Kind),
		Title:     i.Title,
		UnitPrice: i.UnitPrice,
		Quantity:  i.Quantity,
	}
}

func orderItemFromModel(m OrderItemModel) domain.OrderItem {
	return domain.OrderItem{
		ID:        m.ID,
		OrderID:   m.OrderID,
		ProductID: m.ProductID,
		Kind:      domain.ProductKind(m.Kind),
		Title:     m.Title,
		UnitPrice: m.UnitPrice,
		Quantity:  m.Quantity,
	}
}

func transactionToModel(t domain.Transaction) TransactionModel {
	return TransactionModel{
		ID:        t.ID,
		OrderID:   t.OrderID,
		UserID:    t.UserID,
		Amount:    t.Amount,
		Method:    string(t.Method),
		Status:    string(t.Status),
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func transactionFromModel(m TransactionModel) domain.Transaction {
	return domain.Transaction{
		ID:        m.ID,
		OrderID:   m.OrderID,
		UserID:    m.UserID,
		Amount:    m.Amount,
		Method:    domain.PaymentMethod(m.Method),
		Status:    domain.TransactionStatus(m.Status),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
