package natsclient

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/resourcebus/errors"
	"github.com/c360/resourcebus/pkg/retry"
)

// KVEntry is a KV value with its revision.
type KVEntry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// KVOptions configures KV operations behavior
type KVOptions struct {
	MaxRetries    int           // additional attempts after a transient failure
	RetryDelay    time.Duration // initial delay between retries
	MaxRetryDelay time.Duration
	Timeout       time.Duration // per operation, excluding Watch
	MaxValueSize  int
}

// DefaultKVOptions returns the defaults used by the bridge detector.
func DefaultKVOptions() KVOptions {
	return KVOptions{
		MaxRetries:    3,
		RetryDelay:    50 * time.Millisecond,
		MaxRetryDelay: time.Second,
		Timeout:       5 * time.Second,
		MaxValueSize:  64 * 1024,
	}
}

// KVStore wraps a bucket with timeouts and retries.
type KVStore struct {
	bucket  jetstream.KeyValue
	options KVOptions
	logger  *slog.Logger
}

// NewKVStore wraps bucket.
func (m *Client) NewKVStore(bucket jetstream.KeyValue, opts ...func(*KVOptions)) *KVStore {
	options := DefaultKVOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &KVStore{
		bucket:  bucket,
		options: options,
		logger:  m.logger.With("bucket", bucket.Bucket()),
	}
}

func (kv *KVStore) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if kv.options.Timeout > 0 {
		return context.WithTimeout(ctx, kv.options.Timeout)
	}
	return ctx, func() {}
}

func (kv *KVStore) retryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:  kv.options.MaxRetries + 1,
		InitialDelay: kv.options.RetryDelay,
		MaxDelay:     kv.options.MaxRetryDelay,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// Get returns the value stored under key.
func (kv *KVStore) Get(ctx context.Context, key string) (*KVEntry, error) {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	entry, err := kv.bucket.Get(ctx, key)
	if err != nil {
		if IsKVNotFoundError(err) {
			return nil, errors.WrapInvalid(errors.ErrKeyNotFound, "KVStore", "Get", key)
		}
		return nil, errors.WrapTransient(err, "KVStore", "Get", key)
	}
	return &KVEntry{Key: key, Value: entry.Value(), Revision: entry.Revision()}, nil
}

// Put stores value under key, last writer wins. Transient failures are retried.
func (kv *KVStore) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	if kv.options.MaxValueSize > 0 && len(value) > kv.options.MaxValueSize {
		return 0, errors.WrapInvalid(errors.ErrInvalidData, "KVStore", "Put", "value too large")
	}

	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	rev, err := retry.DoWithResult(ctx, kv.retryConfig(), func() (uint64, error) {
		return kv.bucket.Put(ctx, key, value)
	})
	if err != nil {
		return 0, errors.WrapTransient(err, "KVStore", "Put", key)
	}
	kv.logger.Debug("KV put", "key", key, "revision", rev)
	return rev, nil
}

// Delete places a delete marker for key. A missing key is not an error.
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := kv.applyTimeout(ctx)
	defer cancel()

	err := retry.Do(ctx, kv.retryConfig(), func() error {
		err := kv.bucket.Delete(ctx, key)
		if IsKVNotFoundError(err) {
			return nil
		}
		return err
	})
	if err != nil {
		return errors.WrapTransient(err, "KVStore", "Delete", key)
	}
	kv.logger.Debug("KV delete", "key", key)
	return nil
}

// WatchAll watches every key of the bucket. The watcher first replays the
// current values, then sends a nil entry, then live updates.
func (kv *KVStore) WatchAll(ctx context.Context) (jetstream.KeyWatcher, error) {
	w, err := kv.bucket.WatchAll(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "KVStore", "WatchAll", "watch bucket")
	}
	return w, nil
}

// IsKVNotFoundError checks if error indicates key not found
func IsKVNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, jetstream.ErrKeyNotFound) || stderrors.Is(err, errors.ErrKeyNotFound) {
		return true
	}
	errMsg := err.Error()
	return strings.Contains(errMsg, "key not found") || strings.Contains(errMsg, "10037")
}
