package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"ghazal/pkg/domain"
)

const migrateLockID int64 = 47104710

const uniqueViolationCode = "23505"

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&UserModel{},
			&ProductModel{},
			&CartItemModel{},
			&OrderModel{},
			&OrderItemModel{},
			&TransactionModel{},
			&ExchangeBookModel{},
			&ExchangeTransactionModel{},
			&MoneyTransferModel{},
			&NotificationModel{},
			&AudiobookModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'user_models'
					AND constraint_name = 'user_models_wallet_non_negative'
				) THEN
					ALTER TABLE user_models
					ADD CONSTRAINT user_models_wallet_non_negative CHECK (wallet_balance >= 0);
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'product_models'
					AND constraint_name = 'product_models_stock_non_negative'
				) THEN
					ALTER TABLE product_models
					ADD CONSTRAINT product_models_stock_non_negative CHECK (stock >= 0);
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'order_item_models'
					AND constraint_name = 'order_item_models_order_id_fkey'
				) THEN
					ALTER TABLE order_item_models
					ADD CONSTRAINT order_item_models_order_id_fkey
					FOREIGN KEY (order_id) REFERENCES order_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'exchange_transaction_models'
					AND constraint_name = 'exchange_transaction_models_book_id_fkey'
				) THEN
					ALTER TABLE exchange_transaction_models
					ADD CONSTRAINT exchange_transaction_models_book_id_fkey
					FOREIGN KEY (book_id) REFERENCES exchange_book_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure constraints: %w", err)
		}
		if err := tx.Exec(`
			CREATE UNIQUE INDEX IF NOT EXISTS exchange_tx_one_pending_per_requester
			ON exchange_transaction_models (book_id, requester_id)
			WHERE status = 'pending_approval'
		`).Error; err != nil {
			return fmt.Errorf("ensure pending request index: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

// SaveUser registers or updates a user. The wallet balance is never
// overwritten by a profile save.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return translateErr(s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "password_hash", "full_name", "phone", "shipping_address", "role", "status", "updated_at"}),
	}).Create(&model).Error)
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns all users ordered by created_at.
func (s *GormStore) ListUsers() ([]domain.User, error) {
	return s.listUsers()
}

// ListAdmins returns active admins, the recipients of admin fan-out.
func (s *GormStore) ListAdmins() ([]domain.User, error) {
	return s.listUsers("role = ? AND status = ?", string(domain.RoleAdmin), string(domain.StatusActive))
}

func (s *GormStore) listUsers(conds ...any) ([]domain.User, error) {
	var models []UserModel
	tx := s.db.Order("created_at ASC")
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// UserCount returns number of users.
func (s *GormStore) UserCount() (int, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// CreditWallet adds amount to a user's balance.
func (s *GormStore) CreditWallet(userID string, amount decimal.Decimal) (domain.User, error) {
	var user domain.User
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := adjustBalance(tx, userID, amount); err != nil {
			return err
		}
		var model UserModel
		if err := tx.First(&model, "id = ?", userID).Error; err != nil {
			return err
		}
		user = userFromModel(model)
		return nil
	})
	return user, err
}

// adjustBalance adds delta to a wallet; negative deltas fail with
// ErrInsufficientFunds instead of taking the balance below zero.
func adjustBalance(tx *gorm.DB, userID string, delta decimal.Decimal) error {
	query := tx.Model(&UserModel{}).Where("id = ?", userID)
	if delta.IsNegative() {
		query = query.Where("wallet_balance >= ?", delta.Neg())
	}
	res := query.Updates(map[string]any{
		"wallet_balance": gorm.Expr("wallet_balance + ?", delta),
		"updated_at":     time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	var count int64
	if err := tx.Model(&UserModel{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return ErrInsufficientFunds
}

// SaveProduct stores or updates a catalog product.
func (s *GormStore) SaveProduct(p domain.Product) error {
	model := productToModel(p)
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"kind", "title", "author", "description", "category", "price", "stock",
			"cover_key", "ebook_key", "ebook_filename", "active", "updated_at",
		}),
	}).Create(&model).Error
}

// GetProduct retrieves a product.
func (s *GormStore) GetProduct(id string) (domain.Product, bool, error) {
	var model ProductModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Product{}, false, nil
		}
		return domain.Product{}, false, err
	}
	return productFromModel(model), true, nil
}

// ListProducts returns products newest first.
func (s *GormStore) ListProducts(filter ProductFilter) ([]domain.Product, error) {
	tx := s.db.Model(&ProductModel{}).Order("created_at DESC")
	if !filter.IncludeInactive {
		tx = tx.Where("active = ?", true)
	}
	if filter.Kind != "" {
		tx = tx.Where("kind = ?", string(filter.Kind))
	}
	if filter.Category != "" {
		tx = tx.Where("category = ?", filter.Category)
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		pattern := "%" + escapeLike(q) + "%"
		tx = tx.Where("title ILIKE ? OR author ILIKE ?", pattern, pattern)
	}
	if filter.Limit > 0 {
		tx = tx.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		tx = tx.Offset(filter.Offset)
	}
	var models []ProductModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Product, 0, len(models))
	for _, m := range models {
		res = append(res, productFromModel(m))
	}
	return res, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// SaveCartItem upserts the quantity of one cart line.
func (s *GormStore) SaveCartItem(item domain.CartItem) error {
	model := CartItemModel{
		UserID:    item.UserID,
		ProductID: item.ProductID,
		Quantity:  item.Quantity,
		CreatedAt: item.CreatedAt,
		UpdatedAt: item.UpdatedAt,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "product_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"quantity", "updated_at"}),
	}).Create(&model).Error
}

// DeleteCartItem removes one cart line.
func (s *GormStore) DeleteCartItem(userID, productID string) error {
	return s.db.Delete(&CartItemModel{}, "user_id = ? AND product_id = ?", userID, productID).Error
}

// ListCartItems returns a user's cart in insertion order.
func (s *GormStore) ListCartItems(userID string) ([]domain.CartItem, error) {
	var models []CartItemModel
	if err := s.db.Where("user_id = ?", userID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.CartItem, 0, len(models))
	for _, m := range models {
		items = append(items, domain.CartItem{
			UserID:    m.UserID,
			ProductID: m.ProductID,
			Quantity:  m.Quantity,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		})
	}
	return items, nil
}

// CreateNotifications inserts a fan-out batch.
func (s *GormStore) CreateNotifications(items []domain.Notification) error {
	if len(items) == 0 {
		return nil
	}
	models := make([]NotificationModel, 0, len(items))
	for _, n := range items {
		models = append(models, notificationToModel(n))
	}
	return s.db.CreateInBatches(&models, 200).Error
}

// ListNotifications returns a user's notifications newest first.
func (s *GormStore) ListNotifications(userID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	tx := s.db.Where("user_id = ?", userID)
	if unreadOnly {
		tx = tx.Where("read = ?", false)
	}
	var models []NotificationModel
	if err := tx.Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.Notification, 0, len(models))
	for _, m := range models {
		items = append(items, notificationFromModel(m))
	}
	return items, nil
}

// CountUnreadNotifications returns the unread badge count.
func (s *GormStore) CountUnreadNotifications(userID string) (int, error) {
	var count int64
	if err := s.db.Model(&NotificationModel{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// MarkNotificationRead flags one of the user's notifications as read.
func (s *GormStore) MarkNotificationRead(userID, id string) (bool, error) {
	res := s.db.Model(&NotificationModel{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("read", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkAllNotificationsRead flags every unread notification of the user.
func (s *GormStore) MarkAllNotificationsRead(userID string) (int, error) {
	res := s.db.Model(&NotificationModel{}).
		Where("user_id = ? AND read = ?", userID, false).
		Update("read", true)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

// SaveAudiobook stores a new audiobook record.
func (s *GormStore) SaveAudiobook(a domain.Audiobook) error {
	model := audiobookToModel(a)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "voice", "status", "error_message", "source_key", "audio_key", "characters", "segments", "updated_at"}),
	}).Create(&model).Error
}

// GetAudiobook retrieves an audiobook.
func (s *GormStore) GetAudiobook(id string) (domain.Audiobook, bool, error) {
	var model AudiobookModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Audiobook{}, false, nil
		}
		return domain.Audiobook{}, false, err
	}
	return audiobookFromModel(model), true, nil
}

// ListAudiobooksByOwner returns an owner's audiobooks newest first.
func (s *GormStore) ListAudiobooksByOwner(ownerID string) ([]domain.Audiobook, error) {
	var models []AudiobookModel
	if err := s.db.Where("owner_id = ?", ownerID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Audiobook, 0, len(models))
	for _, m := range models {
		res = append(res, audiobookFromModel(m))
	}
	return res, nil
}

// UpdateAudiobook applies processing updates.
func (s *GormStore) UpdateAudiobook(id string, patch AudiobookPatch) error {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if patch.Status != nil {
		updates["status"] = string(*patch.Status)
	}
	if patch.ErrorMessage != nil {
		updates["error_message"] = *patch.ErrorMessage
	}
	if patch.AudioKey != nil {
		updates["audio_key"] = *patch.AudioKey
	}
	if patch.Segments != nil {
		updates["segments"] = *patch.Segments
	}
	res := s.db.Model(&AudiobookModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAudiobook removes an audiobook record.
func (s *GormStore) DeleteAudiobook(id string) error {
	return s.db.Delete(&AudiobookModel{}, "id = ?", id).Error
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:              u.ID,
		Email:           u.Email,
		PasswordHash:    u.PasswordHash,
		FullName:        u.FullName,
		Phone:           u.Phone,
		ShippingAddress: u.ShippingAddress,
		Role:            string(u.Role),
		Status:          string(u.Status),
		WalletBalance:   u.WalletBalance,
		CreatedAt:       u.CreatedAt,
		UpdatedAt:       u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	status := domain.UserStatus(m.Status)
	if status == "" {
		status = domain.StatusActive
	}
	return domain.User{
		ID:              m.ID,
		Email:           m.Email,
		PasswordHash:    m.PasswordHash,
		FullName:        m.FullName,
		Phone:           m.Phone,
		ShippingAddress: m.ShippingAddress,
		Role:            domain.UserRole(m.Role),
		Status:          status,
		WalletBalance:   m.WalletBalance,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func productToModel(p domain.Product) ProductModel {
	return ProductModel{
		ID:            p.ID,
		Kind:          string(p.Kind),
		Title:         p.Title,
		Author:        p.Author,
		Description:   p.Description,
		Category:      p.Category,
		Price:         p.Price,
		Stock:         p.Stock,
		CoverKey:      p.CoverKey,
		EbookKey:      p.EbookKey,
		EbookFilename: p.EbookFilename,
		Active:        p.Active,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func productFromModel(m ProductModel) domain.Product {
	return domain.Product{
		ID:            m.ID,
		Kind:          domain.ProductKind(m.Kind),
		Title:         m.Title,
		Author:        m.Author,
		Description:   m.Description,
		Category:      m.Category,
		Price:         m.Price,
		Stock:         m.Stock,
		CoverKey:      m.CoverKey,
		EbookKey:      m.EbookKey,
		EbookFilename: m.EbookFilename,
		Active:        m.Active,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func notificationToModel(n domain.Notification) NotificationModel {
	var raw []byte
	if len(n.Data) > 0 {
		raw, _ = json.Marshal(n.Data)
	}
	return NotificationModel{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		Link:      n.Link,
		Read:      n.Read,
		Data:      raw,
		CreatedAt: n.CreatedAt,
	}
}

func notificationFromModel(m NotificationModel) domain.Notification {
	var data map[string]string
	if len(m.Data) > 0 {
		_ = json.Unmarshal(m.Data, &data)
	}
	return domain.Notification{
		ID:        m.ID,
		UserID:    m.UserID,
		Type:      domain.NotificationType(m.Type),
		Title:     m.Title,
		Message:   m.Message,
		Link:      m.Link,
		Read:      m.Read,
		Data:      data,
		CreatedAt: m.CreatedAt,
	}
}

func audiobookToModel(a domain.Audiobook) AudiobookModel {
	return AudiobookModel{
		ID:           a.ID,
		OwnerID:      a.OwnerID,
		Title:        a.Title,
		Voice:        a.Voice,
		Status:       string(a.Status),
		ErrorMessage: a.ErrorMessage,
		SourceKey:    a.SourceKey,
		AudioKey:     a.AudioKey,
		Characters:   a.Characters,
		Segments:     a.Segments,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func audiobookFromModel(m AudiobookModel) domain.Audiobook {
	return domain.Audiobook{
		ID:           m.ID,
		OwnerID:      m.OwnerID,
		Title:        m.Title,
		Voice:        m.Voice,
		Status:       domain.AudiobookStatus(m.Status),
		ErrorMessage: m.ErrorMessage,
		SourceKey:    m.SourceKey,
		AudioKey:     m.AudioKey,
		Characters:   m.Characters,
		Segments:     m.Segments,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}
