package leaselock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type row struct {
	key string
	err error
}

func (r row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*string)) = r.key
	return nil
}

type lockRow struct {
	owner   string
	expires time.Time
}

// fakeDB emulates the run_locks statements against a map.
type fakeDB struct {
	mu    sync.Mutex
	locks map[string]lockRow
	now   func() time.Time
}

func newFakeDB() *fakeDB {
	return &fakeDB{locks: make(map[string]lockRow), now: time.Now}
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()

	key, owner := args[0].(string), args[1].(string)
	ttl := time.Duration(args[2].(int64)) * time.Millisecond
	cur, held := f.locks[key]

	switch sql {
	case tryAcquireSQL:
		if held && cur.expires.After(f.now()) && cur.owner != owner {
			return row{err: pgx.ErrNoRows}
		}
		f.locks[key] = lockRow{owner: owner, expires: f.now().Add(ttl)}
		return row{key: key}
	case renewSQL:
		if !held || cur.owner != owner {
			return row{err: pgx.ErrNoRows}
		}
		f.locks[key] = lockRow{owner: owner, expires: f.now().Add(ttl)}
		return row{key: key}
	}
	return row{err: errors.New("unexpected query")}
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sql != releaseSQL {
		return pgconn.CommandTag{}, errors.New("unexpected exec")
	}
	key, owner := args[0].(string), args[1].(string)
	if cur, ok := f.locks[key]; ok && cur.owner == owner {
		delete(f.locks, key)
		return pgconn.NewCommandTag("DELETE 1"), nil
	}
	return pgconn.NewCommandTag("DELETE 0"), nil
}

func (f *fakeDB) drop(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.locks, key)
}

func TestAcquireBusyAndRelease(t *testing.T) {
	ctx := context.Background()
	lk := NewLocker(newFakeDB())

	first, err := lk.Acquire(ctx, "run-1", Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if _, err := lk.Acquire(ctx, "run-1", Options{TTL: time.Minute}); !errors.Is(err, ErrBusy) {
		t.Fatalf("Acquire() error got = %v, want %v", err, ErrBusy)
	}
	if _, err := lk.Acquire(ctx, "run-2", Options{TTL: time.Minute}); err != nil {
		t.Fatalf("Acquire() other run error = %v", err)
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if first.Context().Err() == nil {
		t.Fatalf("Release() lease context not cancelled")
	}
	second, err := lk.Acquire(ctx, "run-1", Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	_ = second.Release(ctx)
}

func TestAcquireEmptyRunID(t *testing.T) {
	if _, err := NewLocker(newFakeDB()).Acquire(context.Background(), "", Options{}); err == nil {
		t.Fatalf("Acquire() expected error for empty run id")
	}
}

func TestAcquireWaits(t *testing.T) {
	ctx := context.Background()
	lk := NewLocker(newFakeDB())

	held, err := lk.Acquire(ctx, "run-1", Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = held.Release(context.Background())
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	l, err := lk.Acquire(waitCtx, "run-1", Options{TTL: time.Minute, Wait: true, WaitInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("Acquire() with wait error = %v", err)
	}
	_ = l.Release(ctx)
}

func TestWithLease(t *testing.T) {
	db := newFakeDB()
	lk := NewLocker(db)

	ran := false
	err := lk.WithLease(context.Background(), "run-1", Options{TTL: time.Minute}, func(ctx context.Context) error {
		ran = true
		if _, err := lk.Acquire(ctx, "run-1", Options{}); !errors.Is(err, ErrBusy) {
			t.Fatalf("Acquire() inside lease got = %v, want %v", err, ErrBusy)
		}
		return nil
	})
	if err != nil || !ran {
		t.Fatalf("WithLease() got = %v/%v, want nil/true", err, ran)
	}
	if len(db.locks) != 0 {
		t.Fatalf("WithLease() locks left = %d, want 0", len(db.locks))
	}
}

func TestLeaseLost(t *testing.T) {
	db := newFakeDB()
	lk := NewLocker(db)

	l, err := lk.Acquire(context.Background(), "run-1", Options{TTL: 2 * time.Second, RenewEvery: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer l.Release(context.Background())
	db.drop("run-1")

	select {
	case <-l.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("lease context not cancelled after lock row vanished")
	}
	if cause := context.Cause(l.Context()); !errors.Is(cause, ErrLost) {
		t.Fatalf("context.Cause() got = %v, want %v", cause, ErrLost)
	}
}
