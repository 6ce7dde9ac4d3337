package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

const maxFTSTokens = 8

var (
	wordRegex = regexp.MustCompile(`[\p{L}][\p{L}\p{N}_\-]{2,}`)

	// Question words carry no retrieval signal and would match every passage.
	stopWords = map[string]struct{}{
		"the": {}, "what": {}, "whats": {}, "what's": {}, "your": {}, "you": {}, "how": {},
		"can": {}, "does": {}, "do": {}, "for": {}, "with": {}, "about": {}, "are": {},
		"is": {}, "this": {}, "that": {}, "there": {}, "have": {}, "and": {}, "tell": {},
		"please": {}, "know": {}, "want": {}, "would": {}, "like": {},
	}
)

func (s *Store) UpsertPolicy(ctx context.Context, p Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return upsertPolicy(ctx, s.db, p)
}

func upsertPolicy(ctx context.Context, db execer, p Policy) error {
	category := strings.TrimSpace(p.Category)
	if category == "" {
		category = "general"
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO policies (brand_id, policy_id, title, category, content)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(brand_id, policy_id) DO UPDATE SET
			title = excluded.title,
			category = excluded.category,
			content = excluded.content
	`, p.BrandID, p.ID, p.Title, category, strings.TrimSpace(p.Content))
	if err != nil {
		return fmt.Errorf("upsert policy %s: %w", p.ID, err)
	}
	return nil
}

// Keywords extracts the search terms from free text.
func Keywords(text string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, w := range wordRegex.FindAllString(strings.ToLower(text), -1) {
		w = strings.Trim(w, "-_")
		if _, stop := stopWords[w]; stop || len(w) < 3 {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	if len(out) > maxFTSTokens {
		out = out[:maxFTSTokens]
	}
	return out
}

// SearchPolicies runs a brand-scoped full-text search ranked by bm25.
func (s *Store) SearchPolicies(ctx context.Context, brandID, query string, limit int) ([]PolicyHit, error) {
	if limit <= 0 {
		limit = 3
	}
	match := buildMatchQuery(Keywords(query))
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.brand_id, p.policy_id, p.title, p.category, p.content, bm25(policies_fts) AS rank
		FROM policies_fts
		JOIN policies p ON p.id = policies_fts.rowid
		WHERE policies_fts MATCH ? AND p.brand_id = ?
		ORDER BY rank
		LIMIT ?
	`, match, brandID, limit)
	if err != nil {
		return nil, fmt.Errorf("search policies: %w", err)
	}
	defer rows.Close()

	var hits []PolicyHit
	for rows.Next() {
		var h PolicyHit
		if err := rows.Scan(&h.BrandID, &h.ID, &h.Title, &h.Category, &h.Content, &h.Rank); err != nil {
			return nil, fmt.Errorf("scan policy hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate policy hits: %w", err)
	}

	ranks := make([]float64, len(hits))
	for i, h := range hits {
		ranks[i] = h.Rank
	}
	for i, rel := range normalizeBM25(ranks) {
		hits[i].Relevance = rel
	}
	return hits, nil
}

// ListPolicies returns every policy of a brand ordered by id.
func (s *Store) ListPolicies(ctx context.Context, brandID string) ([]Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT brand_id, policy_id, title, category, content FROM policies
		WHERE brand_id = ? ORDER BY policy_id
	`, brandID)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	var out []Policy
	for rows.Next() {
		var p Policy
		if err := rows.Scan(&p.BrandID, &p.ID, &p.Title, &p.Category, &p.Content); err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func buildMatchQuery(tokens []string) string {
	quoted := make([]string, 0, len(tokens))
	for _, t := range tokens {
		var b strings.Builder
		for _, r := range t {
			if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
				b.WriteRune(r)
			}
		}
		part := b.String()
		switch part {
		case "", "and", "or", "not", "near":
			continue
		}
		quoted = append(quoted, `"`+part+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// normalizeBM25 maps raw bm25 values to [0,1] with the best match at 1.
func normalizeBM25(raw []float64) []float64 {
	if len(raw) == 0 {
		return nil
	}
	lo, hi := raw[0], raw[0]
	for _, v := range raw[1:] {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	out := make([]float64, len(raw))
	if hi == lo {
		for i := range out {
			out[i] = 1
		}
		return out
	}
	for i, v := range raw {
		out[i] = 1 - (v-lo)/(hi-lo)
	}
	return out
}
