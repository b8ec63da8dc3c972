package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a row the caller named does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrNoData is the defined "no result yet" outcome for ledger queries whose
// precondition is not met (e.g. MinMax with fewer than two distinct prices).
// It is not a failure; callers branch on it.
var ErrNoData = errors.New("storage: insufficient data")

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means sqlite default
}

// User is a chat account known to the bot. Notification mode/frequency are
// per-user display preferences; they do not gate the pipeline.
type User struct {
	TelegramID int64
	FirstName  string
	LastName   string
	Username   string
	NotifyMode string
	NotifyFreq string
	CreatedAt  int64
}

// Product is a tracked listing. URL is its identity; Dirty is the only field
// that changes after creation (title/image are never re-synced).
type Product struct {
	ID       int64
	URL      string
	Title    string
	ImageURL string
	Market   string
	Dirty    bool
}

// Snapshot is one immutable ledger row: the observed price (integer minor
// units) and availability of a product at RetrievedAt (unix seconds).
type Snapshot struct {
	ProductID    int64
	Price        int64
	Availability string
	RetrievedAt  int64
}

// Subscription links a user to a product, with an optional notification
// price threshold in minor units (nil = always notify).
type Subscription struct {
	UserID    int64
	ProductID int64
	Threshold *int64
}

// Pool is a user-scoped named group of products.
type Pool struct {
	ID       int64
	UserID   int64
	Title    string
	ImageURL string
}

// HistoryPoint is one charting/export row: a dense 1-based ordinal over the
// product's time-ascending history.
type HistoryPoint struct {
	Ordinal     int
	Price       int64
	RetrievedAt int64
}
