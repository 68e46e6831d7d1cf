package offline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jdziat/crewrun/pkg/metrics"
	"github.com/jdziat/crewrun/pkg/storage"
)

// Entry is one cached response.
type Entry struct {
	RequestHash string    `gorm:"column:request_hash;primaryKey;size:64"`
	Request     string    `gorm:"column:request;type:text"`
	Response    string    `gorm:"column:response;type:text"`
	Timestamp   time.Time `gorm:"column:timestamp;index"`
}

// TableName implements gorm's tabler.
func (Entry) TableName() string { return "cache" }

// Cache is a SQLite-backed response cache.
type Cache struct {
	db     *gorm.DB
	owned  bool
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Cache.
type Option interface {
	apply(*Cache)
}

type optionFunc func(*Cache)

func (f optionFunc) apply(c *Cache) { f(c) }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	})
}

// WithClock overrides the time source used to stamp entries.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(c *Cache) {
		c.now = now
	})
}

// Open opens (creating if needed) the cache database at path.
func Open(path string, opts ...Option) (*Cache, error) {
	db, err := storage.Open(storage.DriverSQLite, path)
	if err != nil {
		return nil, fmt.Errorf("open offline cache: %w", err)
	}
	c, err := New(db, opts...)
	if err != nil {
		_ = storage.Close(db)
		return nil, err
	}
	c.owned = true
	return c, nil
}

// New creates a cache on an existing database and migrates its table.
func New(db *gorm.DB, opts ...Option) (*Cache, error) {
	c := &Cache{
		db:     db,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt.apply(c)
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("migrate offline cache: %w", err)
	}
	return c, nil
}

// Close closes the database if the cache opened it.
func (c *Cache) Close() error {
	if !c.owned {
		return nil
	}
	return storage.Close(c.db)
}

// Put stores response under request, replacing any previous entry.
func (c *Cache) Put(ctx context.Context, request, response any) error {
	key, canonical, err := Key(request)
	if err != nil {
		return err
	}
	body, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("encode cached response: %w", err)
	}

	entry := Entry{
		RequestHash: key,
		Request:     string(canonical),
		Response:    string(body),
		Timestamp:   c.now(),
	}
	err = c.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&entry).Error
	if err != nil {
		return fmt.Errorf("store cached response: %w", err)
	}
	return nil
}

// Get returns the response cached for request.
func (c *Cache) Get(ctx context.Context, request any) (json.RawMessage, bool, error) {
	key, _, err := Key(request)
	if err != nil {
		return nil, false, err
	}

	var entry Entry
	err = c.db.WithContext(ctx).Where("request_hash = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cached response: %w", err)
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return json.RawMessage(entry.Response), true, nil
}

// Lookup is Get followed by decoding the response into T.
func Lookup[T any](ctx context.Context, c *Cache, request any) (T, bool, error) {
	var out T
	raw, found, err := c.Get(ctx, request)
	if err != nil || !found {
		return out, found, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		c.logger.Warn("cached response unreadable, ignoring it", "error", err)
		return out, false, nil
	}
	return out, true, nil
}

// Prune deletes entries stored before cutoff and returns how many were
// removed.
func (c *Cache) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := c.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&Entry{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune offline cache: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		c.logger.Info("pruned offline cache", "removed", res.RowsAffected, "cutoff", cutoff)
	}
	return res.RowsAffected, nil
}

// Len returns the number of cached entries.
func (c *Cache) Len(ctx context.Context) (int64, error) {
	var n int64
	if err := c.db.WithContext(ctx).Model(&Entry{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// Key returns the lookup key of request and its canonical encoding.
func Key(request any) (string, []byte, error) {
	canonical, err := Canonicalize(request)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), canonical, nil
}

// Canonicalize encodes v as compact JSON with object keys sorted at every
// level. Numbers keep their original text.
func Canonicalize(v any) ([]byte, error) {
	var raw []byte
	switch r := v.(type) {
	case json.RawMessage:
		raw = r
	case []byte:
		raw = r
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		raw = b
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if err := dec.Decode(new(json.RawMessage)); !errors.Is(err, io.EOF) {
		return nil, errors.New("decode request: trailing data after JSON value")
	}
	// encoding/json writes map keys in sorted order.
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return out, nil
}
