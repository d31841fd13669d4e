package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/ndquang2/shopstock/internal/core/domain"
	"github.com/ndquang2/shopstock/internal/port"
)

var seedPricesCents = []int{999, 1299, 1999, 2999, 4999, 129900}

type MySQLStore struct {
	db      *sql.DB
	log     zerolog.Logger
	metrics port.Metrics
}

func NewMySQLStore(db *sql.DB, log zerolog.Logger, metrics port.Metrics) *MySQLStore {
	return &MySQLStore{db: db, log: log, metrics: metrics}
}

// EnsureSchema creates the inventory and orders tables if they do not
// exist yet.
func (s *MySQLStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS inventory (
			id INT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description TEXT NOT NULL,
			price_cents INT NOT NULL,
			qty INT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			item_id INT NOT NULL,
			qty INT NOT NULL,
			unit_price_cents INT NOT NULL,
			total_cents INT NOT NULL,
			created_at DATETIME NOT NULL,
			KEY idx_orders_item (item_id),
			CONSTRAINT fk_orders_item FOREIGN KEY (item_id) REFERENCES inventory (id)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Seed inserts 100 demo items when the inventory table is empty.
func (s *MySQLStore) Seed(ctx context.Context) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM inventory`).Scan(&count); err != nil {
		return fmt.Errorf("seed count: %w", err)
	}
	if count > 0 {
		return nil
	}

	for i := 1; i <= 100; i++ {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO inventory (id, name, description, price_cents, qty)
			VALUES (?, ?, ?, ?, ?)`,
			i,
			fmt.Sprintf("Item-%03d", i),
			fmt.Sprintf("Demo item %d description", i),
			seedPricesCents[rand.Intn(len(seedPricesCents))],
			5+rand.Intn(46),
		)
		if err != nil {
			return fmt.Errorf("seed item %d: %w", i, err)
		}
	}

	s.log.Info().Msg("inventory seeded with demo items")
	return nil
}

func (s *MySQLStore) GetItem(ctx context.Context, itemID int) (*domain.Item, error) {
	t0 := time.Now()

	var item domain.Item
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, price_cents, qty
		FROM inventory WHERE id = ?`, itemID,
	).Scan(&item.ID, &item.Name, &item.Description, &item.PriceCents, &item.Quantity)

	if errors.Is(err, sql.ErrNoRows) {
		s.metrics.ObserveStoreOp("get_item", "ok", time.Since(t0).Seconds())
		return nil, nil
	}
	if err != nil {
		s.metrics.ObserveStoreOp("get_item", "error", time.Since(t0).Seconds())
		s.log.Error().Err(err).Int("item_id", itemID).Msg("db get item")
		return nil, fmt.Errorf("query item: %w", err)
	}

	s.metrics.ObserveStoreOp("get_item", "ok", time.Since(t0).Seconds())
	return &item, nil
}

// Purchase runs the conditional decrement and the order insert as one
// transaction. The UPDATE only matches while enough stock remains, so
// two concurrent purchases can never jointly take more than is there.
func (s *MySQLStore) Purchase(ctx context.Context, itemID, quantity int) (*domain.PurchaseResult, error) {
	t0 := time.Now()

	result, err := s.purchaseTx(ctx, itemID, quantity)
	if errors.Is(err, domain.ErrInsufficientStock) {
		// Normal outcome, not a failure.
		s.metrics.ObserveStoreOp("purchase", "ok", time.Since(t0).Seconds())
		return nil, err
	}
	if err != nil {
		s.metrics.ObserveStoreOp("purchase", "error", time.Since(t0).Seconds())
		s.log.Error().Err(err).Int("item_id", itemID).Int("qty", quantity).Msg("db purchase")
		return nil, err
	}

	s.metrics.ObserveStoreOp("purchase", "ok", time.Since(t0).Seconds())
	return result, nil
}

func (s *MySQLStore) purchaseTx(ctx context.Context, itemID, quantity int) (*domain.PurchaseResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE inventory SET qty = qty - ?
		WHERE id = ? AND qty >= ?`,
		quantity, itemID, quantity,
	)
	if err != nil {
		return nil, fmt.Errorf("decrement stock: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return nil, domain.ErrInsufficientStock
	}

	// The row is locked by the UPDATE for the rest of the transaction,
	// so this read observes the decremented quantity and the price the
	// order is charged at.
	var priceCents, newQty int
	err = tx.QueryRowContext(ctx, `
		SELECT price_cents, qty FROM inventory WHERE id = ?`, itemID,
	).Scan(&priceCents, &newQty)
	if err != nil {
		return nil, fmt.Errorf("read item after decrement: %w", err)
	}

	createdAt := time.Now().UTC().Truncate(time.Second)
	totalCents := priceCents * quantity
	ins, err := tx.ExecContext(ctx, `
		INSERT INTO orders (item_id, qty, unit_price_cents, total_cents, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		itemID, quantity, priceCents, totalCents, createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	orderID, err := ins.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("order id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return &domain.PurchaseResult{
		Order: domain.Order{
			ID:             orderID,
			ItemID:         itemID,
			Quantity:       quantity,
			UnitPriceCents: priceCents,
			TotalCents:     totalCents,
			CreatedAt:      createdAt,
		},
		NewQuantity: newQty,
	}, nil
}

func (s *MySQLStore) Health(ctx context.Context) bool {
	t0 := time.Now()

	if err := s.db.PingContext(ctx); err != nil {
		s.metrics.ObserveStoreOp("health", "error", time.Since(t0).Seconds())
		s.log.Error().Err(err).Msg("db ping")
		return false
	}

	s.metrics.ObserveStoreOp("health", "ok", time.Since(t0).Seconds())
	return true
}
