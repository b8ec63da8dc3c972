package storage

import (
	"context"
	"database/sql"
	"errors"
)

// AppendPrice appends one ledger row and flags the product dirty, in a single
// transaction. The ledger is append-only: rows are never updated, and only a
// full Untrack cascade removes them.
func (s *Store) AppendPrice(ctx context.Context, snap Snapshot) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO price_history(product_id, price, availability, retrieved_at) VALUES(?,?,?,?)`,
			snap.ProductID, snap.Price, snap.Availability, snap.RetrievedAt,
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE products SET dirty = 1 WHERE id = ?`, snap.ProductID)
		return err
	})
}

// Latest returns the most recent ledger row for the product, or ErrNoData if
// the product has no history.
func (s *Store) Latest(ctx context.Context, productID int64) (Snapshot, error) {
	snap := Snapshot{ProductID: productID}
	err := s.db.QueryRowContext(ctx,
		`SELECT price, availability, retrieved_at FROM price_history
		 WHERE product_id = ? ORDER BY retrieved_at DESC, id DESC LIMIT 1`,
		productID).Scan(&snap.Price, &snap.Availability, &snap.RetrievedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNoData
	}
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// MinMax returns the lowest and highest price ever recorded for the product.
// The extremes are only considered meaningful once at least two distinct
// prices exist; below that it returns ErrNoData.
func (s *Store) MinMax(ctx context.Context, productID int64) (min, max int64, err error) {
	var distinct int
	var lo, hi sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT price), MIN(price), MAX(price)
		 FROM price_history WHERE product_id = ?`,
		productID).Scan(&distinct, &lo, &hi)
	if err != nil {
		return 0, 0, err
	}
	if distinct < 2 {
		return 0, 0, ErrNoData
	}
	return lo.Int64, hi.Int64, nil
}

// MinPrice returns the lowest price ever recorded for the product, defined as
// soon as any history exists. Pool aggregation uses this as the fallback for
// members whose MinMax is still undefined.
func (s *Store) MinPrice(ctx context.Context, productID int64) (int64, error) {
	var lo sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(price) FROM price_history WHERE product_id = ?`,
		productID).Scan(&lo)
	if err != nil {
		return 0, err
	}
	if !lo.Valid {
		return 0, ErrNoData
	}
	return lo.Int64, nil
}

// LastTwo returns the two most recent prices as [newest, previous]. With
// exactly one ledger row that row is returned in both positions, so callers
// comparing the pair see "no change". No history at all is ErrNoData.
func (s *Store) LastTwo(ctx context.Context, productID int64) ([2]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT price FROM price_history WHERE product_id = ?
		 ORDER BY retrieved_at DESC, id DESC LIMIT 2`, productID)
	if err != nil {
		return [2]int64{}, err
	}
	defer rows.Close()

	var prices []int64
	for rows.Next() {
		var p int64
		if err := rows.Scan(&p); err != nil {
			return [2]int64{}, err
		}
		prices = append(prices, p)
	}
	if err := rows.Err(); err != nil {
		return [2]int64{}, err
	}
	switch len(prices) {
	case 0:
		return [2]int64{}, ErrNoData
	case 1:
		return [2]int64{prices[0], prices[0]}, nil
	default:
		return [2]int64{prices[0], prices[1]}, nil
	}
}

// History returns the full ledger for a product in time-ascending order,
// with a dense 1-based ordinal suitable for charting.
func (s *Store) History(ctx context.Context, productID int64) ([]HistoryPoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT price, retrieved_at FROM price_history WHERE product_id = ?
		 ORDER BY retrieved_at ASC, id ASC`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryPoint
	for rows.Next() {
		var pt HistoryPoint
		if err := rows.Scan(&pt.Price, &pt.RetrievedAt); err != nil {
			return nil, err
		}
		pt.Ordinal = len(out) + 1
		out = append(out, pt)
	}
	return out, rows.Err()
}
