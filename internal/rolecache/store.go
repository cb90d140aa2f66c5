// Package rolecache keeps a versioned snapshot of the role registry in Redis.
package rolecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/psicare/psicare/internal/platform/httpx"
	"github.com/psicare/psicare/internal/roles"
)

const (
	SnapshotKey = "psicare:roles:snapshot"
	VersionKey  = "psicare:roles:snapshot:version"
	BumpChannel = "roles.snapshot.bump"

	maxTxRetries = 5
)

// ErrSnapshotMissing reports that no snapshot has been written yet.
var ErrSnapshotMissing = errors.New("rolecache: snapshot missing")

// Snapshot is the cached role list.
type Snapshot struct {
	Version   int64        `json:"version"`
	UpdatedAt time.Time    `json:"updatedAt"`
	Roles     []roles.Role `json:"roles"`
}

// Loader rebuilds the role list from the registry. It is expected to write
// the snapshot as a side effect.
type Loader func(ctx context.Context) ([]roles.Role, error)

// Store reads and writes the role snapshot.
type Store struct {
	client *redis.Client
	loader Loader
	logger *slog.Logger
	group  singleflight.Group
	now    func() time.Time
}

// NewStore builds a Store. logger may be nil.
func NewStore(client *redis.Client, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, logger: logger, now: time.Now}
}

// SetLoader registers the read-through loader used when the snapshot is
// missing.
func (s *Store) SetLoader(l Loader) {
	s.loader = l
}

// Replace overwrites the snapshot wholesale, bumps the version and
// announces it on BumpChannel.
func (s *Store) Replace(ctx context.Context, list []roles.Role) error {
	if list == nil {
		list = []roles.Role{}
	}
	var version int64
	err := s.watch(ctx, func(tx *redis.Tx) error {
		current, err := readVersion(ctx, tx)
		if err != nil {
			return err
		}
		version = current + 1
		payload, err := json.Marshal(Snapshot{Version: version, UpdatedAt: s.now().UTC(), Roles: list})
		if err != nil {
			return keep(fmt.Errorf("rolecache: encode snapshot: %w", err))
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Incr(ctx, VersionKey)
			pipe.Set(ctx, SnapshotKey, payload, 0)
			return nil
		})
		return err
	}, VersionKey)
	if err != nil {
		return err
	}
	s.publish(ctx, version)
	return nil
}

// Load returns the stored snapshot or ErrSnapshotMissing.
func (s *Store) Load(ctx context.Context) (Snapshot, error) {
	return decode(s.client.Get(ctx, SnapshotKey).Bytes())
}

// Snapshot returns the stored snapshot, running the loader once across
// concurrent callers when it is missing.
func (s *Store) Snapshot(ctx context.Context) (Snapshot, error) {
	snap, err := s.Load(ctx)
	if !errors.Is(err, ErrSnapshotMissing) || s.loader == nil {
		return snap, err
	}
	v, err, _ := s.group.Do(SnapshotKey, func() (any, error) {
		loaded, err := s.loader(ctx)
		if err != nil {
			return Snapshot{}, err
		}
		snap, err := s.Load(ctx)
		if errors.Is(err, ErrSnapshotMissing) {
			// the loader could not write; serve its result unversioned
			return Snapshot{UpdatedAt: s.now().UTC(), Roles: loaded}, nil
		}
		return snap, err
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}

// Roles returns the cached roles through the read-through path.
func (s *Store) Roles(ctx context.Context) ([]roles.Role, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Roles, nil
}

// Mutate rewrites the snapshot under WATCH. fn edits the decoded snapshot in
// place; the version is bumped when the transaction commits.
func (s *Store) Mutate(ctx context.Context, fn func(*Snapshot) error) (Snapshot, error) {
	var result Snapshot
	err := s.watch(ctx, func(tx *redis.Tx) error {
		snap, err := decode(tx.Get(ctx, SnapshotKey).Bytes())
		if err != nil {
			return keep(err)
		}
		current, err := readVersion(ctx, tx)
		if err != nil {
			return err
		}
		if err := fn(&snap); err != nil {
			return keep(err)
		}
		snap.Version = current + 1
		snap.UpdatedAt = s.now().UTC()
		payload, err := json.Marshal(snap)
		if err != nil {
			return keep(fmt.Errorf("rolecache: encode snapshot: %w", err))
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Incr(ctx, VersionKey)
			pipe.Set(ctx, SnapshotKey, payload, 0)
			return nil
		})
		result = snap
		return err
	}, SnapshotKey, VersionKey)
	if err != nil {
		return Snapshot{}, err
	}
	s.publish(ctx, result.Version)
	return result, nil
}

// Version returns the current version stamp, zero before the first write.
func (s *Store) Version(ctx context.Context) (int64, error) {
	ver, err := s.client.Get(ctx, VersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("rolecache: version: %w: %v", httpx.ErrUnavailable, err)
	}
	return ver, nil
}

// Listen subscribes to version bumps and calls fn for each one until ctx is
// done. It returns once the subscription is active.
func (s *Store) Listen(ctx context.Context, fn func(version int64)) error {
	pubsub := s.client.Subscribe(ctx, BumpChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("rolecache: subscribe: %w: %v", httpx.ErrUnavailable, err)
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ver, err := strconv.ParseInt(msg.Payload, 10, 64)
				if err != nil {
					s.logger.Warn("ignore malformed snapshot bump", slog.String("payload", msg.Payload))
					continue
				}
				fn(ver)
			}
		}
	}()
	return nil
}

// callbackError carries errors raised inside a WATCH callback that must reach
// the caller unchanged.
type callbackError struct{ err error }

func (e *callbackError) Error() string { return e.err.Error() }
func (e *callbackError) Unwrap() error { return e.err }

func keep(err error) error {
	return &callbackError{err: err}
}

func (s *Store) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for range maxTxRetries {
		err := s.client.Watch(ctx, fn, keys...)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		var cbErr *callbackError
		if errors.As(err, &cbErr) {
			return cbErr.err
		}
		return fmt.Errorf("rolecache: %w: %v", httpx.ErrUnavailable, err)
	}
	return fmt.Errorf("%w: role snapshot changed concurrently", httpx.ErrConflict)
}

func (s *Store) publish(ctx context.Context, version int64) {
	if err := s.client.Publish(ctx, BumpChannel, strconv.FormatInt(version, 10)).Err(); err != nil {
		s.logger.Warn("publish snapshot bump", slog.Int64("version", version), slog.Any("error", err))
	}
}

func readVersion(ctx context.Context, tx *redis.Tx) (int64, error) {
	ver, err := tx.Get(ctx, VersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return ver, err
}

func decode(payload []byte, err error) (Snapshot, error) {
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrSnapshotMissing
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("rolecache: load: %w: %v", httpx.ErrUnavailable, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("rolecache: decode snapshot: %w", err)
	}
	return snap, nil
}
