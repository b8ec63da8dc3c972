package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// UpsertUser inserts the user or refreshes their display fields.
// Notification preferences are preserved on conflict.
func (s *Store) UpsertUser(ctx context.Context, u User) error {
	if u.CreatedAt == 0 {
		u.CreatedAt = time.Now().Unix()
	}
	if u.NotifyMode == "" {
		u.NotifyMode = "full"
	}
	if u.NotifyFreq == "" {
		u.NotifyFreq = "never"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(telegram_id, first_name, last_name, username, notify_mode, notify_freq, created_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(telegram_id) DO UPDATE SET
		   first_name=excluded.first_name,
		   last_name=excluded.last_name,
		   username=excluded.username`,
		u.TelegramID, u.FirstName, u.LastName, u.Username, u.NotifyMode, u.NotifyFreq, u.CreatedAt,
	)
	return err
}

// Users returns every known user (used to rebuild memoized keyboards).
func (s *Store) Users(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT telegram_id, first_name, last_name, username, notify_mode, notify_freq, created_at
		 FROM users ORDER BY telegram_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.TelegramID, &u.FirstName, &u.LastName, &u.Username, &u.NotifyMode, &u.NotifyFreq, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// EnsureTracked makes userID a subscriber of the product identified by p.URL,
// creating the product (with its first ledger row) if this is the first time
// anyone tracks that URL. The whole operation is one transaction; the UNIQUE
// constraints on products.url and subscriptions(user_id, product_id) make it
// safe under concurrent writers.
//
// The first snapshot does not mark the product dirty: there is no change to
// announce yet.
func (s *Store) EnsureTracked(ctx context.Context, userID int64, p Product, first Snapshot) (Product, bool, error) {
	var out Product
	var created bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO products(url, title, image_url, market) VALUES(?,?,?,?)
			 ON CONFLICT(url) DO NOTHING`,
			p.URL, p.Title, p.ImageURL, p.Market,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = n > 0

		row := tx.QueryRowContext(ctx,
			`SELECT id, url, title, image_url, market, dirty FROM products WHERE url = ?`, p.URL)
		if err := scanProduct(row, &out); err != nil {
			return err
		}

		if created {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO price_history(product_id, price, availability, retrieved_at) VALUES(?,?,?,?)`,
				out.ID, first.Price, first.Availability, first.RetrievedAt,
			); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO subscriptions(user_id, product_id) VALUES(?,?)
			 ON CONFLICT(user_id, product_id) DO NOTHING`,
			userID, out.ID,
		)
		return err
	})
	if err != nil {
		return Product{}, false, err
	}
	return out, created, nil
}

// Product returns one product by id.
func (s *Store) Product(ctx context.Context, id int64) (Product, error) {
	var p Product
	row := s.db.QueryRowContext(ctx,
		`SELECT id, url, title, image_url, market, dirty FROM products WHERE id = ?`, id)
	if err := scanProduct(row, &p); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, err
	}
	return p, nil
}

// ProductsByMarket returns the products whose source tag is in markets,
// in id order. An empty markets list yields no products.
func (s *Store) ProductsByMarket(ctx context.Context, markets []string) ([]Product, error) {
	if len(markets) == 0 {
		return nil, nil
	}
	ph := strings.TrimSuffix(strings.Repeat("?,", len(markets)), ",")
	args := make([]any, len(markets))
	for i, m := range markets {
		args[i] = m
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, url, title, image_url, market, dirty FROM products
		 WHERE market IN (%s) ORDER BY id`, ph), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProducts(rows)
}

// UserProducts returns the products userID subscribes to, in id order.
func (s *Store) UserProducts(ctx context.Context, userID int64) ([]Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.url, p.title, p.image_url, p.market, p.dirty
		 FROM products p
		 JOIN subscriptions sub ON sub.product_id = p.id
		 WHERE sub.user_id = ?
		 ORDER BY p.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProducts(rows)
}

// Subscribers returns every subscription on productID.
func (s *Store) Subscribers(ctx context.Context, productID int64) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, product_id, threshold FROM subscriptions WHERE product_id = ? ORDER BY user_id`,
		productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		var sub Subscription
		var th sql.NullInt64
		if err := rows.Scan(&sub.UserID, &sub.ProductID, &th); err != nil {
			return nil, err
		}
		if th.Valid {
			v := th.Int64
			sub.Threshold = &v
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// SetThreshold sets (or clears, with nil) the user's notification threshold
// for a product.
func (s *Store) SetThreshold(ctx context.Context, userID, productID int64, threshold *int64) error {
	var v any
	if threshold != nil {
		v = *threshold
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET threshold = ? WHERE user_id = ? AND product_id = ?`,
		v, userID, productID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Threshold returns the user's threshold for a product (nil when unset).
func (s *Store) Threshold(ctx context.Context, userID, productID int64) (*int64, error) {
	var th sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT threshold FROM subscriptions WHERE user_id = ? AND product_id = ?`,
		userID, productID).Scan(&th)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !th.Valid {
		return nil, nil
	}
	v := th.Int64
	return &v, nil
}

// Untrack removes the user's subscription to a product, along with the
// user's pool memberships for it. If the product is left with no subscribers
// at all, the product and its entire price history are deleted too.
func (s *Store) Untrack(ctx context.Context, userID, productID int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM subscriptions WHERE user_id = ? AND product_id = ?`, userID, productID); err != nil {
			return err
		}
		if err := removeFromPoolTx(ctx, tx, userID, productID); err != nil {
			return err
		}

		var remaining int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM subscriptions WHERE product_id = ?`, productID).Scan(&remaining); err != nil {
			return err
		}
		if remaining > 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM price_history WHERE product_id = ?`, productID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, productID)
		return err
	})
}

// DirtyProducts returns products flagged with a pending, undispatched change.
func (s *Store) DirtyProducts(ctx context.Context) ([]Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, title, image_url, market, dirty FROM products WHERE dirty = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProducts(rows)
}

// ClearDirty marks the product's pending change as dispatched. Only the
// notification dispatcher calls this; only AppendPrice sets the flag.
func (s *Store) ClearDirty(ctx context.Context, productID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE products SET dirty = 0 WHERE id = ?`, productID)
	return err
}

// CreatePool creates a new pool for the user seeded with productID; the pool
// takes its title and image from that product.
func (s *Store) CreatePool(ctx context.Context, userID, productID int64) (Pool, error) {
	var pool Pool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var p Product
		row := tx.QueryRowContext(ctx,
			`SELECT id, url, title, image_url, market, dirty FROM products WHERE id = ?`, productID)
		if err := scanProduct(row, &p); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO pools(user_id, title, image_url) VALUES(?,?,?)`,
			userID, p.Title, p.ImageURL)
		if err != nil {
			return err
		}
		poolID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pool_products(pool_id, product_id, user_id) VALUES(?,?,?)`,
			poolID, productID, userID); err != nil {
			return err
		}
		pool = Pool{ID: poolID, UserID: userID, Title: p.Title, ImageURL: p.ImageURL}
		return nil
	})
	if err != nil {
		return Pool{}, err
	}
	return pool, nil
}

// Pools lists the user's pools in id order.
func (s *Store) Pools(ctx context.Context, userID int64) ([]Pool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, image_url FROM pools WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Pool
	for rows.Next() {
		var p Pool
		if err := rows.Scan(&p.ID, &p.UserID, &p.Title, &p.ImageURL); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AppendToPool adds productID to an existing pool of the user. Adding a
// product that is already a member is a no-op.
func (s *Store) AppendToPool(ctx context.Context, userID, poolID, productID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pool_products(pool_id, product_id, user_id) VALUES(?,?,?)
		 ON CONFLICT(pool_id, product_id, user_id) DO NOTHING`,
		poolID, productID, userID)
	return err
}

// PoolProducts returns the member products of the user's pool, in id order.
func (s *Store) PoolProducts(ctx context.Context, userID, poolID int64) ([]Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.url, p.title, p.image_url, p.market, p.dirty
		 FROM products p
		 JOIN pool_products pp ON pp.product_id = p.id
		 WHERE pp.user_id = ? AND pp.pool_id = ?
		 ORDER BY p.id`, userID, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProducts(rows)
}

// InAnyPool reports whether the user already grouped productID into one of
// their pools.
func (s *Store) InAnyPool(ctx context.Context, userID, productID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM pool_products WHERE user_id = ? AND product_id = ? LIMIT 1`,
		userID, productID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RemoveFromPool removes the user's membership of productID from whichever
// pool holds it. A pool left with zero members is deleted.
func (s *Store) RemoveFromPool(ctx context.Context, userID, productID int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return removeFromPoolTx(ctx, tx, userID, productID)
	})
}

func removeFromPoolTx(ctx context.Context, tx *sql.Tx, userID, productID int64) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT pool_id FROM pool_products WHERE user_id = ? AND product_id = ?`, userID, productID)
	if err != nil {
		return err
	}
	var poolIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		poolIDs = append(poolIDs, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()
	if len(poolIDs) == 0 {
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pool_products WHERE user_id = ? AND product_id = ?`, userID, productID); err != nil {
		return err
	}
	for _, poolID := range poolIDs {
		var members int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM pool_products WHERE pool_id = ?`, poolID).Scan(&members); err != nil {
			return err
		}
		if members == 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM pools WHERE id = ?`, poolID); err != nil {
				return err
			}
		}
	}
	return nil
}

func scanProduct(row *sql.Row, p *Product) error {
	var dirty int
	if err := row.Scan(&p.ID, &p.URL, &p.Title, &p.ImageURL, &p.Market, &dirty); err != nil {
		return err
	}
	p.Dirty = dirty != 0
	return nil
}

func collectProducts(rows *sql.Rows) ([]Product, error) {
	var out []Product
	for rows.Next() {
		var p Product
		var dirty int
		if err := rows.Scan(&p.ID, &p.URL, &p.Title, &p.ImageURL, &p.Market, &dirty); err != nil {
			return nil, err
		}
		p.Dirty = dirty != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

