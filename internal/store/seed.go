package store

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/stellarlinkco/cxagent/internal/brand"
)

type SeedResult struct {
	Orders   int
	Policies int
	Products int
}

// SeedBrand upserts the brand's seed files in one transaction. Missing seed
// files are skipped.
func (s *Store) SeedBrand(ctx context.Context, b *brand.Brand) (SeedResult, error) {
	var (
		res    SeedResult
		orders struct {
			Orders []Order `yaml:"orders"`
		}
		policies struct {
			Policies []Policy `yaml:"policies"`
		}
		products struct {
			Products []Product `yaml:"products"`
		}
	)
	if err := readSeed(brand.SeedFile(b, brand.OrdersFile), &orders); err != nil {
		return res, err
	}
	if err := readSeed(brand.SeedFile(b, brand.PoliciesFile), &policies); err != nil {
		return res, err
	}
	if err := readSeed(brand.SeedFile(b, brand.ProductsFile), &products); err != nil {
		return res, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback()

	for _, o := range orders.Orders {
		o.BrandID = b.ID
		if err := upsertOrder(ctx, tx, o); err != nil {
			return res, err
		}
		res.Orders++
	}
	for _, p := range policies.Policies {
		p.BrandID = b.ID
		if err := upsertPolicy(ctx, tx, p); err != nil {
			return res, err
		}
		res.Policies++
	}
	for _, p := range products.Products {
		p.BrandID = b.ID
		if err := upsertProduct(ctx, tx, p); err != nil {
			return res, err
		}
		res.Products++
	}

	if err := tx.Commit(); err != nil {
		return SeedResult{}, fmt.Errorf("commit seed: %w", err)
	}
	return res, nil
}

func readSeed(path string, v any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed: %w", err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse seed %s: %w", path, err)
	}
	return nil
}
