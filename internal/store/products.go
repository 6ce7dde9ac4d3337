package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

func (s *Store) UpsertProduct(ctx context.Context, p Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertProduct(ctx, s.db, p)
}

func upsertProduct(ctx context.Context, db execer, p Product) error {
	sizes, _ := json.Marshal(nonNil(p.Sizes))
	colors, _ := json.Marshal(nonNil(p.Colors))
	inStock := 0
	if p.InStock {
		inStock = 1
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO products (brand_id, product_id, name, category, price, in_stock, sizes, colors, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(brand_id, product_id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			price = excluded.price,
			in_stock = excluded.in_stock,
			sizes = excluded.sizes,
			colors = excluded.colors,
			description = excluded.description
	`, p.BrandID, p.ProductID, p.Name, p.Category, p.Price, inStock, string(sizes), string(colors), p.Description)
	if err != nil {
		return fmt.Errorf("upsert product %s: %w", p.ProductID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (Product, error) {
	var (
		p             Product
		inStock       int
		sizes, colors string
	)
	if err := row.Scan(&p.BrandID, &p.ProductID, &p.Name, &p.Category, &p.Price, &inStock, &sizes, &colors, &p.Description); err != nil {
		return Product{}, err
	}
	p.InStock = inStock == 1
	if err := json.Unmarshal([]byte(sizes), &p.Sizes); err != nil {
		return Product{}, fmt.Errorf("decode sizes: %w", err)
	}
	if err := json.Unmarshal([]byte(colors), &p.Colors); err != nil {
		return Product{}, fmt.Errorf("decode colors: %w", err)
	}
	return p, nil
}

const productColumns = `brand_id, product_id, name, category, price, in_stock, sizes, colors, description`

func (s *Store) GetProduct(ctx context.Context, brandID, productID string) (*Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products
		WHERE brand_id = ? AND product_id = ? COLLATE NOCASE`, brandID, productID)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", productID, err)
	}
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context, brandID string) ([]Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products
		WHERE brand_id = ? ORDER BY product_id`, brandID)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
