package store

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ghazal/pkg/domain"
)

// CreateTransfer inserts a pending transfer request.
func (s *GormStore) CreateTransfer(t domain.MoneyTransfer) error {
	model := transferToModel(t)
	return translateErr(s.db.Create(&model).Error)
}

// GetTransfer retrieves a transfer.
func (s *GormStore) GetTransfer(id string) (domain.MoneyTransfer, bool, error) {
	var model MoneyTransferModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.MoneyTransfer{}, false, nil
		}
		return domain.MoneyTransfer{}, false, err
	}
	return transferFromModel(model), true, nil
}

// ListTransfers returns transfers newest first.
func (s *GormStore) ListTransfers(filter TransferFilter) ([]domain.MoneyTransfer, error) {
	tx := s.db.Model(&MoneyTransferModel{}).Order("created_at DESC")
	if filter.UserID != "" {
		tx = tx.Where("sender_id = ? OR recipient_id = ?", filter.UserID, filter.UserID)
	}
	if filter.Status != "" {
		tx = tx.Where("status = ?", string(filter.Status))
	}
	if filter.Limit > 0 {
		tx = tx.Limit(filter.Limit)
	}
	var models []MoneyTransferModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.MoneyTransfer, 0, len(models))
	for _, m := range models {
		res = append(res, transferFromModel(m))
	}
	return res, nil
}

// CompleteTransfer debits the sender and credits the recipient of a pending transfer.
func (s *GormStore) CompleteTransfer(id string, at time.Time) (domain.MoneyTransfer, error) {
	var out domain.MoneyTransfer
	err := s.db.Transaction(func(tx *gorm.DB) error {
		model, err := lockPendingTransfer(tx, id)
		if err != nil {
			return err
		}
		if err := adjustBalance(tx, model.SenderID, model.Amount.Neg()); err != nil {
			return err
		}
		if err := adjustBalance(tx, model.RecipientID, model.Amount); err != nil {
			return err
		}
		model.Status = string(domain.TransferCompleted)
		model.DecidedAt = &at
		model.UpdatedAt = at
		if err := tx.Model(&MoneyTransferModel{}).Where("id = ?", id).
			Updates(map[string]any{"status": model.Status, "decided_at": at, "updated_at": at}).Error; err != nil {
			return err
		}
		out = transferFromModel(model)
		return nil
	})
	return out, err
}

// DeclineTransfer closes a pending transfer without moving money.
func (s *GormStore) DeclineTransfer(id string, at time.Time) (domain.MoneyTransfer, error) {
	var out domain.MoneyTransfer
	err := s.db.Transaction(func(tx *gorm.DB) error {
		model, err := lockPendingTransfer(tx, id)
		if err != nil {
			return err
		}
		model.Status = string(domain.TransferDeclined)
		model.DecidedAt = &at
		model.UpdatedAt = at
		if err := tx.Model(&MoneyTransferModel{}).Where("id = ?", id).
			Updates(map[string]any{"status": model.Status, "decided_at": at, "updated_at": at}).Error; err != nil {
			return err
		}
		out = transferFromModel(model)
		return nil
	})
	return out, err
}

func lockPendingTransfer(tx *gorm.DB, id string) (MoneyTransferModel, error) {
	var model MoneyTransferModel
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model, ErrNotFound
		}
		return model, err
	}
	if model.Status != string(domain.TransferPending) {
		return model, ErrConflict
	}
	return model, nil
}

func transferToModel(t domain.MoneyTransfer) MoneyTransferModel {
	return MoneyTransferModel{
		ID:          t.ID,
		SenderID:    t.SenderID,
		RecipientID: t.RecipientID,
		Amount:      t.Amount,
		Note:        t.Note,
		Status:      string(t.Status),
		DecidedAt:   t.DecidedAt,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func transferFromModel(m MoneyTransferModel) domain.MoneyTransfer {
	return domain.MoneyTransfer{
		ID:          m.ID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Amount:      m.Amount,
		Note:        m.Note,
		Status:      domain.TransferStatus(m.Status),
		DecidedAt:   m.DecidedAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}
