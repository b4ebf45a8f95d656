package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/cafe-pos/internal/domain"
)

// Replica is the local copy of the catalog used while the catalog service is
// unreachable.
type Replica struct {
	db *sql.DB
}

func NewReplica(db *sql.DB) *Replica {
	return &Replica{db: db}
}

func (r *Replica) Get(ctx context.Context, id string) (Product, error) {
	var (
		p         Product
		basePrice string
		taxRate   sql.NullString
		sizes     string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, category, base_price, tax_rate, sizes
		FROM catalog_products
		WHERE id = ?
	`, id).Scan(&p.ID, &p.Name, &p.Category, &basePrice, &taxRate, &sizes)
	if errors.Is(err, sql.ErrNoRows) {
		return Product{}, domain.ErrNotFound
	}
	if err != nil {
		return Product{}, fmt.Errorf("get replica product %s: %w", id, err)
	}

	if p.BasePrice, err = decimal.NewFromString(basePrice); err != nil {
		return Product{}, fmt.Errorf("parse base price of %s: %w", id, err)
	}
	if taxRate.Valid {
		rate, err := decimal.NewFromString(taxRate.String)
		if err != nil {
			return Product{}, fmt.Errorf("parse tax rate of %s: %w", id, err)
		}
		p.TaxRate = decimal.NewNullDecimal(rate)
	}
	if err := json.Unmarshal([]byte(sizes), &p.Sizes); err != nil {
		return Product{}, fmt.Errorf("parse sizes of %s: %w", id, err)
	}

	return p, nil
}

// ReplaceAll swaps the replica contents for products in one transaction.
func (r *Replica) ReplaceAll(ctx context.Context, products []Product) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM catalog_products`); err != nil {
		return fmt.Errorf("clear replica: %w", err)
	}

	now := time.Now().UTC().UnixMilli()
	for _, p := range products {
		sizes, err := json.Marshal(p.Sizes)
		if err != nil {
			return fmt.Errorf("encode sizes of %s: %w", p.ID, err)
		}
		var taxRate sql.NullString
		if p.TaxRate.Valid {
			taxRate = sql.NullString{String: p.TaxRate.Decimal.String(), Valid: true}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO catalog_products (id, name, category, base_price, tax_rate, sizes, synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, p.ID, p.Name, p.Category, p.BasePrice.String(), taxRate, string(sizes), now)
		if err != nil {
			return fmt.Errorf("insert replica product %s: %w", p.ID, err)
		}
	}

	return tx.Commit()
}
