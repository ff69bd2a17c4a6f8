package storage

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/healthbridge/errors"
)

// NATSStoreOptions configures the JetStream-backed store.
type NATSStoreOptions struct {
	Bucket      string        // KV bucket name
	Description string        // bucket description when auto-creating
	Timeout     time.Duration // per-operation timeout
	TTL         time.Duration // bucket-level entry TTL, 0 = no expiry
	Replicas    int           // bucket replicas when auto-creating
}

// DefaultNATSStoreOptions returns production defaults.
func DefaultNATSStoreOptions() NATSStoreOptions {
	return NATSStoreOptions{
		Bucket:      "healthbridge-cache",
		Description: "durable tier for health data cache and sync state",
		Timeout:     5 * time.Second,
		Replicas:    1,
	}
}

// NATSStore is a Store backed by a JetStream key-value bucket. It is the
// durable tier: cache entries written here survive process restarts and are
// visible to other subsystem instances on the same NATS deployment.
type NATSStore struct {
	conn    *nats.Conn
	bucket  jetstream.KeyValue
	options NATSStoreOptions
	logger  *slog.Logger
}

// NewNATSStore connects the store to a JetStream KV bucket, creating the
// bucket if it does not exist.
func NewNATSStore(ctx context.Context, conn *nats.Conn, logger *slog.Logger, opts NATSStoreOptions) (*NATSStore, error) {
	if conn == nil {
		return nil, fmt.Errorf("storage.NewNATSStore: nil connection")
	}
	if opts.Bucket == "" {
		opts.Bucket = DefaultNATSStoreOptions().Bucket
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultNATSStoreOptions().Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	js, err := jetstream.New(conn)
	if err != nil {
		return nil, errors.WrapNetwork(err, "natsstore", "new", "create jetstream context")
	}

	bucket, err := js.KeyValue(ctx, opts.Bucket)
	if err != nil {
		bucket, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      opts.Bucket,
			Description: opts.Description,
			TTL:         opts.TTL,
			Replicas:    opts.Replicas,
		})
		if err != nil {
			return nil, errors.WrapNetwork(err, "natsstore", "new", "create bucket")
		}
	}

	return &NATSStore{
		conn:    conn,
		bucket:  bucket,
		options: opts,
		logger:  logger.With("component", "natsstore", "bucket", opts.Bucket),
	}, nil
}

// applyTimeout applies the configured per-operation timeout.
func (s *NATSStore) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.options.Timeout > 0 {
		return context.WithTimeout(ctx, s.options.Timeout)
	}
	return ctx, func() {}
}

// GetItem returns the value for key, or ErrNotFound.
func (s *NATSStore) GetItem(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.applyTimeout(ctx)
	defer cancel()

	entry, err := s.bucket.Get(ctx, encodeKey(key))
	if err != nil {
		if isKVNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, errors.WrapNetwork(err, "natsstore", "getItem", "kv get")
	}
	return entry.Value(), nil
}

// SetItem stores value under key, last writer wins.
func (s *NATSStore) SetItem(ctx context.Context, key string, value []byte) error {
	ctx, cancel := s.applyTimeout(ctx)
	defer cancel()

	rev, err := s.bucket.Put(ctx, encodeKey(key), value)
	if err != nil {
		return errors.WrapNetwork(err, "natsstore", "setItem", "kv put")
	}

	s.logger.Debug("kv put", "key", key, "revision", rev, "bytes", len(value))
	return nil
}

// RemoveItem deletes key. Absent keys are a no-op.
func (s *NATSStore) RemoveItem(ctx context.Context, key string) error {
	ctx, cancel := s.applyTimeout(ctx)
	defer cancel()

	if err := s.bucket.Delete(ctx, encodeKey(key)); err != nil {
		if isKVNotFound(err) {
			return nil
		}
		return errors.WrapNetwork(err, "natsstore", "removeItem", "kv delete")
	}
	return nil
}

// Keys returns every stored key with the given prefix.
func (s *NATSStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := s.applyTimeout(ctx)
	defer cancel()

	lister, err := s.bucket.ListKeys(ctx)
	if err != nil {
		return nil, errors.WrapNetwork(err, "natsstore", "keys", "kv list")
	}

	var keys []string
	for k := range lister.Keys() {
		decoded := decodeKey(k)
		if strings.HasPrefix(decoded, prefix) {
			keys = append(keys, decoded)
		}
	}
	return keys, nil
}

// Close is a no-op: the NATS connection is owned by the caller.
func (s *NATSStore) Close() error { return nil }

// NATS KV keys cannot contain ':'. Cache keys use it as a separator, so the
// store transcodes on the way in and out.
func encodeKey(key string) string { return strings.ReplaceAll(key, ":", "=") }
func decodeKey(key string) string { return strings.ReplaceAll(key, "=", ":") }

// isKVNotFound matches jetstream's typed error plus the raw server strings
// older servers return.
func isKVNotFound(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, jetstream.ErrKeyNotFound) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "key not found") || strings.Contains(msg, "10037")
}
