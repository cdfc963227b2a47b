package store

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ghazal/pkg/domain"
)

// SaveExchangeBook stores or updates a deposited book.
func (s *GormStore) SaveExchangeBook(b domain.ExchangeBook) error {
	model := exchangeBookToModel(b)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "author", "condition", "description", "status", "price", "approved_at", "updated_at"}),
	}).Create(&model).Error
}

// GetExchangeBook retrieves a deposited book.
func (s *GormStore) GetExchangeBook(id string) (domain.ExchangeBook, bool, error) {
	var model ExchangeBookModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ExchangeBook{}, false, nil
		}
		return domain.ExchangeBook{}, false, err
	}
	return exchangeBookFromModel(model), true, nil
}

// ListExchangeBooks returns deposited books newest first.
func (s *GormStore) ListExchangeBooks(filter ExchangeBookFilter) ([]domain.ExchangeBook, error) {
	tx := s.db.Model(&ExchangeBookModel{}).Order("created_at DESC")
	if filter.Status != "" {
		tx = tx.Where("status = ?", string(filter.Status))
	}
	if filter.DepositorID != "" {
		tx = tx.Where("depositor_id = ?", filter.DepositorID)
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		pattern := "%" + escapeLike(q) + "%"
		tx = tx.Where("title ILIKE ? OR author ILIKE ?", pattern, pattern)
	}
	var models []ExchangeBookModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ExchangeBook, 0, len(models))
	for _, m := range models {
		res = append(res, exchangeBookFromModel(m))
	}
	return res, nil
}

// DecideDeposit approves or rejects a book still awaiting review.
func (s *GormStore) DecideDeposit(id string, status domain.ExchangeBookStatus, at time.Time) (domain.ExchangeBook, error) {
	updates := map[string]any{"status": string(status), "updated_at": at}
	if status == domain.BookAvailable {
		updates["approved_at"] = at
	}
	var book domain.ExchangeBook
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ExchangeBookModel{}).
			Where("id = ? AND status = ?", id, string(domain.BookPendingApproval)).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		var model ExchangeBookModel
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		book = exchangeBookFromModel(model)
		return nil
	})
	return book, err
}

// CreateExchangeTransaction inserts a new borrow/purchase request.
func (s *GormStore) CreateExchangeTransaction(t domain.ExchangeTransaction) error {
	model := exchangeTxToModel(t)
	return translateErr(s.db.Create(&model).Error)
}

// GetExchangeTransaction retrieves a request.
func (s *GormStore) GetExchangeTransaction(id string) (domain.ExchangeTransaction, bool, error) {
	var model ExchangeTransactionModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ExchangeTransaction{}, false, nil
		}
		return domain.ExchangeTransaction{}, false, err
	}
	return exchangeTxFromModel(model), true, nil
}

// ListExchangeTransactions returns requests newest first.
func (s *GormStore) ListExchangeTransactions(filter ExchangeTransactionFilter) ([]domain.ExchangeTransaction, error) {
	tx := s.db.Model(&ExchangeTransactionModel{}).Order("created_at DESC")
	if filter.RequesterID != "" {
		tx = tx.Where("requester_id = ?", filter.RequesterID)
	}
	if filter.BookID != "" {
		tx = tx.Where("book_id = ?", filter.BookID)
	}
	if filter.Status != "" {
		tx = tx.Where("status = ?", string(filter.Status))
	}
	if filter.Type != "" {
		tx = tx.Where("type = ?", string(filter.Type))
	}
	if filter.DueBefore != nil {
		tx = tx.Where("status = ? AND due_date IS NOT NULL AND due_date < ?", string(domain.ExchangeActive), *filter.DueBefore)
		if filter.OverdueUnnotified {
			tx = tx.Where("overdue_notified_at IS NULL")
		}
	}
	var models []ExchangeTransactionModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ExchangeTransaction, 0, len(models))
	for _, m := range models {
		res = append(res, exchangeTxFromModel(m))
	}
	return res, nil
}

// ApproveExchange activates a request, locks the book row, moves purchase
// money and auto-rejects competing pending requests.
func (s *GormStore) ApproveExchange(in ApproveExchangeInput) (ApproveExchangeResult, error) {
	var result ApproveExchangeResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var txModel ExchangeTransactionModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&txModel, "id = ?", in.TransactionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if txModel.Status != string(domain.ExchangePendingApproval) {
			return ErrConflict
		}
		var bookModel ExchangeBookModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&bookModel, "id = ?", txModel.BookID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if bookModel.Status != string(domain.BookAvailable) {
			return ErrConflict
		}
		if in.Charge.IsPositive() {
			if err := adjustBalance(tx, in.BuyerID, in.Charge.Neg()); err != nil {
				return err
			}
			if err := adjustBalance(tx, in.SellerID, in.Charge); err != nil {
				return err
			}
		}
		txModel.Status = string(domain.ExchangeActive)
		txModel.ApprovedAt = &in.At
		txModel.DueDate = in.DueDate
		txModel.UpdatedAt = in.At
		if err := tx.Model(&ExchangeTransactionModel{}).Where("id = ?", txModel.ID).
			Updates(map[string]any{
				"status":      txModel.Status,
				"approved_at": txModel.ApprovedAt,
				"due_date":    txModel.DueDate,
				"updated_at":  txModel.UpdatedAt,
			}).Error; err != nil {
			return err
		}
		bookModel.Status = string(in.BookStatus)
		bookModel.UpdatedAt = in.At
		if err := tx.Model(&ExchangeBookModel{}).Where("id = ?", bookModel.ID).
			Updates(map[string]any{"status": bookModel.Status, "updated_at": in.At}).Error; err != nil {
			return err
		}

		var others []ExchangeTransactionModel
		if err := tx.Where("book_id = ? AND status = ? AND id <> ?",
			bookModel.ID, string(domain.ExchangePendingApproval), txModel.ID).
			Find(&others).Error; err != nil {
			return err
		}
		if len(others) > 0 {
			ids := make([]string, 0, len(others))
			for _, o := range others {
				ids = append(ids, o.ID)
			}
			if err := tx.Model(&ExchangeTransactionModel{}).Where("id IN ?", ids).
				Updates(map[string]any{
					"status":     string(domain.ExchangeRejected),
					"updated_at": in.At,
				}).Error; err != nil {
				return err
			}
		}
		result.Transaction = exchangeTxFromModel(txModel)
		result.Book = exchangeBookFromModel(bookModel)
		result.AutoRejected = make([]domain.ExchangeTransaction, 0, len(others))
		for _, o := range others {
			o.Status = string(domain.ExchangeRejected)
			o.UpdatedAt = in.At
			result.AutoRejected = append(result.AutoRejected, exchangeTxFromModel(o))
		}
		return nil
	})
	return result, err
}

// RejectExchange declines a pending request.
func (s *GormStore) RejectExchange(id string, at time.Time) (domain.ExchangeTransaction, error) {
	return s.transitionExchange(id, domain.ExchangePendingApproval, map[string]any{
		"status":     string(domain.ExchangeRejected),
		"updated_at": at,
	}, nil)
}

// ReturnExchange closes an active loan and puts the book back on the shelf.
func (s *GormStore) ReturnExchange(id string, at time.Time) (domain.ExchangeTransaction, error) {
	return s.transitionExchange(id, domain.ExchangeActive, map[string]any{
		"status":      string(domain.ExchangeReturned),
		"returned_at": at,
		"updated_at":  at,
	}, func(tx *gorm.DB, model ExchangeTransactionModel) error {
		return tx.Model(&ExchangeBookModel{}).
			Where("id = ? AND status = ?", model.BookID, string(domain.BookOnLoan)).
			Updates(map[string]any{"status": string(domain.BookAvailable), "updated_at": at}).Error
	})
}

func (s *GormStore) transitionExchange(id string, from domain.ExchangeStatus, updates map[string]any, after func(*gorm.DB, ExchangeTransactionModel) error) (domain.ExchangeTransaction, error) {
	var out domain.ExchangeTransaction
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ExchangeTransactionModel{}).
			Where("id = ? AND status = ?", id, string(from)).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		var model ExchangeTransactionModel
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		if after != nil {
			if err := after(tx, model); err != nil {
				return err
			}
		}
		out = exchangeTxFromModel(model)
		return nil
	})
	return out, err
}

// MarkOverdueNotified stamps the overdue notice time on a loan.
func (s *GormStore) MarkOverdueNotified(id string, at time.Time) error {
	res := s.db.Model(&ExchangeTransactionModel{}).
		Where("id = ? AND overdue_notified_at IS NULL", id).
		Updates(map[string]any{"overdue_notified_at": at, "updated_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

func exchangeBookToModel(b domain.ExchangeBook) ExchangeBookModel {
	return ExchangeBookModel{
		ID:          b.ID,
		Title:       b.Title,
		Author:      b.Author,
		Condition:   string(b.Condition),
		Description: b.Description,
		Status:      string(b.Status),
		DepositorID: b.DepositorID,
		Price:       b.Price,
		ApprovedAt:  b.ApprovedAt,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}

func exchangeBookFromModel(m ExchangeBookModel) domain.ExchangeBook {
	return domain.ExchangeBook{
		ID:          m.ID,
		Title:       m.Title,
		Author:      m.Author,
		Condition:   domain.BookCondition(m.Condition),
		Description: m.Description,
		Status:      domain.ExchangeBookStatus(m.Status),
		DepositorID: m.DepositorID,
		Price:       m.Price,
		ApprovedAt:  m.ApprovedAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func exchangeTxToModel(t domain.ExchangeTransaction) ExchangeTransactionModel {
	return ExchangeTransactionModel{
		ID:                t.ID,
		BookID:            t.BookID,
		RequesterID:       t.RequesterID,
		Type:              string(t.Type),
		Status:            string(t.Status),
		Note:              t.Note,
		DueDate:           t.DueDate,
		ApprovedAt:        t.ApprovedAt,
		ReturnedAt:        t.ReturnedAt,
		OverdueNotifiedAt: t.OverdueNotifiedAt,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
	}
}

func exchangeTxFromModel(m ExchangeTransactionModel) domain.ExchangeTransaction {
	return domain.ExchangeTransaction{
		ID:                m.ID,
		BookID:            m.BookID,
		RequesterID:       m.RequesterID,
		Type:              domain.ExchangeType(m.Type),
		Status:            domain.ExchangeStatus(m.Status),
		Note:              m.Note,
		DueDate:           m.DueDate,
		ApprovedAt:        m.ApprovedAt,
		ReturnedAt:        m.ReturnedAt,
		OverdueNotifiedAt: m.OverdueNotifiedAt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}
