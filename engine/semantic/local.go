package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"slices"
	"strings"

	"github.com/WessleyAI/textbook-rag/engine/domain"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// Key layout:
//
//	col:<name>                 -> collectionInfo
//	vec:<name>\x00<section id> -> storedVector
const (
	collectionPrefix = "col:"
	vectorPrefix     = "vec:"
)

type collectionInfo struct {
	Dims int `json:"dims"`
}

type storedVector struct {
	Content string            `json:"content"`
	Meta    map[string]string `json:"meta"`
	Vector  []float32         `json:"vector"`
}

// Local is a Backend on an embedded BadgerDB directory. Vectors are stored
// normalized so cosine similarity is a dot product; search is a brute-force
// scan of the collection.
type Local struct {
	db     *badger.DB
	logger *slog.Logger
}

var _ Backend = (*Local)(nil)

// badgerLogger adapts slog.Logger to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLogger)(nil)

func (l *badgerLogger) Errorf(msg string, items ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (l *badgerLogger) Warningf(msg string, items ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (l *badgerLogger) Infof(msg string, items ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (l *badgerLogger) Debugf(msg string, items ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

// OpenLocal opens (creating if needed) the store directory at dir.
func OpenLocal(dir string, logger *slog.Logger) (*Local, error) {
	if dir == "" {
		return nil, errors.New("semantic: local store dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("semantic: create store dir %s: %w", dir, err)
	}
	return openLocal(badger.DefaultOptions(dir), logger)
}

// OpenLocalInMemory opens a throwaway in-memory store.
func OpenLocalInMemory(logger *slog.Logger) (*Local, error) {
	return openLocal(badger.DefaultOptions("").WithInMemory(true), logger)
}

func openLocal(opts badger.Options, logger *slog.Logger) (*Local, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "local-store")
	opts.Logger = &badgerLogger{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("semantic: open badger: %w", err)
	}
	return &Local{db: db, logger: logger}, nil
}

// Close closes the database.
func (l *Local) Close() error {
	return l.db.Close()
}

func collectionKey(name string) []byte {
	return []byte(collectionPrefix + name)
}

func vectorKeyPrefix(name string) []byte {
	return []byte(vectorPrefix + name + "\x00")
}

func vectorKey(name, id string) []byte {
	return append(vectorKeyPrefix(name), id...)
}

func (l *Local) info(tx *badger.Txn, name string) (collectionInfo, error) {
	var info collectionInfo
	item, err := tx.Get(collectionKey(name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return info, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
	}
	if err != nil {
		return info, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &info)
	})
	return info, err
}

// EnsureCollection registers the collection. An existing collection must
// have the same dimensionality.
func (l *Local) EnsureCollection(_ context.Context, name string, dims int) error {
	if dims <= 0 {
		return fmt.Errorf("semantic: collection %s: invalid dims %d", name, dims)
	}
	return l.db.Update(func(tx *badger.Txn) error {
		info, err := l.info(tx, name)
		if err == nil {
			if info.Dims != dims {
				return fmt.Errorf("semantic: collection %s has %d dims, got %d", name, info.Dims, dims)
			}
			return nil
		}
		if !errors.Is(err, domain.ErrCollectionNotFound) {
			return err
		}
		data, err := json.Marshal(collectionInfo{Dims: dims})
		if err != nil {
			return err
		}
		l.logger.Info("collection created", "collection", name, "dims", dims)
		return tx.Set(collectionKey(name), data)
	})
}

// ListCollections returns collection names in key order.
func (l *Local) ListCollections(_ context.Context) ([]string, error) {
	var names []string
	err := l.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(collectionPrefix)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			names = append(names, strings.TrimPrefix(string(iter.Item().Key()), collectionPrefix))
		}
		return nil
	})
	return names, err
}

// DeleteCollection drops the collection and all its vectors.
func (l *Local) DeleteCollection(_ context.Context, name string) error {
	if err := l.db.Update(func(tx *badger.Txn) error {
		return tx.Delete(collectionKey(name))
	}); err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", name, err)
	}
	// vectorKeyPrefix is NUL-terminated, so this cannot reach a collection
	// whose name extends name.
	return l.db.DropPrefix(vectorKeyPrefix(name))
}

// Upsert writes records in one transaction.
func (l *Local) Upsert(_ context.Context, name string, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	return l.db.Update(func(tx *badger.Txn) error {
		info, err := l.info(tx, name)
		if err != nil {
			return err
		}
		for _, r := range records {
			if len(r.Embedding) != info.Dims {
				return fmt.Errorf("semantic: %s/%s: embedding has %d dims, want %d", name, r.ID, len(r.Embedding), info.Dims)
			}
			data, err := json.Marshal(storedVector{
				Content: r.Content,
				Meta:    r.Meta,
				Vector:  normalize(r.Embedding),
			})
			if err != nil {
				return err
			}
			if err := tx.Set(vectorKey(name, r.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Search scans the collection and returns the topK most similar vectors.
// Equal scores are ordered by section id.
func (l *Local) Search(ctx context.Context, name string, embedding []float32, topK int) ([]SearchResult, error) {
	query := normalize(embedding)
	var results []SearchResult

	err := l.db.View(func(tx *badger.Txn) error {
		info, err := l.info(tx, name)
		if err != nil {
			return err
		}
		if len(query) != info.Dims {
			return fmt.Errorf("semantic: query has %d dims, collection %s has %d", len(query), name, info.Dims)
		}

		prefix := vectorKeyPrefix(name)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := iter.Item()
			var sv storedVector
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &sv)
			}); err != nil {
				return err
			}
			results = append(results, SearchResult{
				ID:      string(bytes.TrimPrefix(item.Key(), prefix)),
				Score:   dotProduct(query, sv.Vector),
				Content: sv.Content,
				Meta:    sv.Meta,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(results, func(a, b SearchResult) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return strings.Compare(a.ID, b.ID)
		}
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Count returns the number of vectors in the collection.
func (l *Local) Count(_ context.Context, name string) (int, error) {
	n := 0
	err := l.db.View(func(tx *badger.Txn) error {
		if _, err := l.info(tx, name); err != nil {
			return err
		}
		opts := badger.DefaultIteratorOptions
		opts.Prefix = vectorKeyPrefix(name)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	mag := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / mag)
	}
	return out
}

func dotProduct(a, b []float32) float32 {
	n := min(len(a), len(b))
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
