package crowdsaled

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tokensale/config"
)

// ReceiptKind enumerates the committed operations a receipt can describe.
type ReceiptKind string

const (
	ReceiptPurchase ReceiptKind = "PURCHASE"
	ReceiptRefund   ReceiptKind = "REFUND"
	ReceiptFinalize ReceiptKind = "FINALIZE"
	ReceiptRate     ReceiptKind = "RATE"
)

// PayoutStatus tracks an outbox entry through external settlement.
type PayoutStatus string

const (
	PayoutPending PayoutStatus = "PENDING"
	PayoutSettled PayoutStatus = "SETTLED"
)

// Receipt records one committed ledger operation. Amounts are decimal
// strings so 256-bit values are stored losslessly.
type Receipt struct {
	ID             uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	Kind           ReceiptKind `gorm:"size:16;index" json:"kind"`
	Account        string      `gorm:"size:42;index" json:"account"`
	ContributionID string      `gorm:"size:66;index" json:"contributionId,omitempty"`
	Incoming       string      `gorm:"size:80" json:"incoming,omitempty"`
	Spent          string      `gorm:"size:80" json:"spent,omitempty"`
	Overpaid       string      `gorm:"size:80" json:"overpaid,omitempty"`
	Units          string      `gorm:"size:80" json:"units,omitempty"`
	Refunded       string      `gorm:"size:80" json:"refunded,omitempty"`
	Detail         string      `gorm:"type:text" json:"detail,omitempty"`
	RequestID      string      `gorm:"size:64" json:"requestId,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// Payout is an outbox entry for value leaving custody. The ledger treats a
// successful insert as a completed transfer; an external executor settles
// pending rows on chain. IdempotencyKey names the ledger operation that
// queued the row, so replaying that operation after a restart finds the
// existing row instead of adding another.
type Payout struct {
	ID             uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	IdempotencyKey string       `gorm:"size:66;uniqueIndex" json:"idempotencyKey"`
	Recipient      string       `gorm:"size:42;index" json:"recipient"`
	AmountWei      string       `gorm:"size:80" json:"amountWei"`
	Status         PayoutStatus `gorm:"size:16;index" json:"status"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Receipt{}, &Payout{})
}

// OpenReceiptsDB connects to the configured SQL backend and migrates it.
func OpenReceiptsDB(cfg config.Receipts) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case config.DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	case config.DriverSQLite, "":
		if dir := filepath.Dir(cfg.DSN); dir != "." && dir != "" && !strings.HasPrefix(cfg.DSN, "file:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create receipts dir: %w", err)
			}
		}
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported receipts driver %q", cfg.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open receipts db: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate receipts db: %w", err)
	}
	return db, nil
}

// ErrReceiptNotFound is returned when no receipt has the requested ID.
var ErrReceiptNotFound = errors.New("crowdsaled: receipt not found")

// ReceiptStore persists receipts and the payout outbox.
type ReceiptStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewReceiptStore(db *gorm.DB) *ReceiptStore {
	return &ReceiptStore{db: db, now: time.Now}
}

// Record assigns an ID and timestamp to receipt and stores it.
func (s *ReceiptStore) Record(ctx context.Context, receipt *Receipt) error {
	if receipt.ID == uuid.Nil {
		receipt.ID = uuid.New()
	}
	if receipt.CreatedAt.IsZero() {
		receipt.CreatedAt = s.now().UTC()
	}
	return s.db.WithContext(ctx).Create(receipt).Error
}

// Get loads the receipt with the given ID.
func (s *ReceiptStore) Get(ctx context.Context, id uuid.UUID) (*Receipt, error) {
	var receipt Receipt
	if err := s.db.WithContext(ctx).First(&receipt, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrReceiptNotFound
		}
		return nil, err
	}
	return &receipt, nil
}

// ListByAccount returns an account's receipts, oldest first.
func (s *ReceiptStore) ListByAccount(ctx context.Context, account common.Address, limit int) ([]Receipt, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var receipts []Receipt
	err := s.db.WithContext(ctx).
		Where("account = ?", account.Hex()).
		Order("created_at asc").
		Limit(limit).
		Find(&receipts).Error
	return receipts, err
}

// Queue inserts a pending payout under key. When a row with the same key
// already exists and names the same recipient and amount the call succeeds
// without writing; a row that disagrees is reported as ErrPayoutConflict.
func (s *ReceiptStore) Queue(ctx context.Context, key string, to common.Address, amount *big.Int) error {
	if key == "" {
		return errors.New("payout idempotency key required")
	}
	if amount == nil || amount.Sign() <= 0 {
		return errors.New("payout amount must be positive")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Payout
		err := tx.Where("idempotency_key = ?", key).First(&existing).Error
		switch {
		case err == nil:
			if existing.Recipient == to.Hex() && existing.AmountWei == amount.String() {
				return nil
			}
			return fmt.Errorf("%w: key %s holds %s wei for %s", ErrPayoutConflict, key, existing.AmountWei, existing.Recipient)
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}
		now := s.now().UTC()
		return tx.Create(&Payout{
			ID:             uuid.New(),
			IdempotencyKey: key,
			Recipient:      to.Hex(),
			AmountWei:      amount.String(),
			Status:         PayoutPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}).Error
	})
}

// Payouts lists outbox entries, optionally filtered by status.
func (s *ReceiptStore) Payouts(ctx context.Context, status PayoutStatus) ([]Payout, error) {
	query := s.db.WithContext(ctx).Order("created_at asc")
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var payouts []Payout
	err := query.Find(&payouts).Error
	return payouts, err
}

// MarkSettled flags a pending payout as settled by the external executor.
func (s *ReceiptStore) MarkSettled(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Model(&Payout{}).
		Where("id = ? AND status = ?", id, PayoutPending).
		Updates(map[string]any{"status": PayoutSettled, "updated_at": s.now().UTC()})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPayoutNotPending
	}
	return nil
}

// ErrPayoutNotPending is returned when settling an unknown or settled payout.
var ErrPayoutNotPending = errors.New("crowdsaled: payout not pending")

// ErrPayoutConflict is returned when an idempotency key is reused for a
// different transfer.
var ErrPayoutConflict = errors.New("crowdsaled: payout key already used for a different transfer")

const (
	payoutKindRefund  = "refund"
	payoutKindForward = "forward"
)

// payoutKey identifies the single transfer a ledger operation can make for
// account. Refunds pay a buyer at most once and the forward happens once, so
// kind and account are enough to make replays converge.
func payoutKey(kind string, account common.Address) string {
	return ethcrypto.Keccak256Hash([]byte(kind), account.Bytes()).Hex()
}

// payoutSink queues ledger transfers in the outbox under the key of the
// operation in flight. The server sets key under its mutex around each
// ledger call that can move value.
type payoutSink struct {
	store *ReceiptStore
	key   string
}

func (p *payoutSink) Send(to common.Address, amount *big.Int) error {
	if p.key == "" {
		return errors.New("transfer outside a keyed operation")
	}
	return p.store.Queue(context.Background(), p.key, to, amount)
}
