package leaselock

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/OFFIS-RIT/diligence/internal/util"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrBusy = errors.New("run is locked by another worker")
	ErrLost = errors.New("run lock lost")
)

type dbConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Locker hands out expiring leases on run ids stored in the run_locks
// table. A lease is renewed in the background until released; when renewal
// fails the lease context is cancelled with ErrLost as cause.
type Locker struct {
	db dbConn
}

type Options struct {
	TTL        time.Duration
	RenewEvery time.Duration
	// Wait keeps polling while another holder owns the key.
	Wait         bool
	WaitInterval time.Duration
	WaitJitter   time.Duration
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 5 * time.Minute
	}
	if o.RenewEvery <= 0 || o.RenewEvery >= o.TTL {
		o.RenewEvery = max(o.TTL/2, time.Second)
	}
	if o.WaitInterval <= 0 {
		o.WaitInterval = 250 * time.Millisecond
	}
	if o.WaitJitter < 0 {
		o.WaitJitter = 0
	}
	return o
}

type Lease struct {
	RunID string
	Token string

	ctx    context.Context
	cancel context.CancelCauseFunc
	locker *Locker
	ttlMs  int64

	stopOnce sync.Once
	stopped  chan struct{}
}

// Context is cancelled when the lease is released or lost.
func (l *Lease) Context() context.Context { return l.ctx }

func NewLocker(conn dbConn) *Locker {
	return &Locker{db: conn}
}

// WithLease runs fn while holding the lock on runID.
func (lk *Locker) WithLease(ctx context.Context, runID string, opts Options, fn func(ctx context.Context) error) error {
	lease, err := lk.Acquire(ctx, runID, opts)
	if err != nil {
		return err
	}
	defer func() {
		_ = lease.Release(context.Background())
	}()
	return fn(lease.Context())
}

// Acquire takes the lock on runID, or returns ErrBusy when it is held and
// opts.Wait is false.
func (lk *Locker) Acquire(ctx context.Context, runID string, opts Options) (*Lease, error) {
	if runID == "" {
		return nil, errors.New("run id is empty")
	}
	opts = opts.withDefaults()
	ttlMs := opts.TTL.Milliseconds()

	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	token := "run-" + id

	for {
		ok, err := lk.tryAcquire(ctx, runID, token, ttlMs)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		if !opts.Wait {
			return nil, ErrBusy
		}
		wait := opts.WaitInterval
		if opts.WaitJitter > 0 {
			wait += time.Duration(rand.Int64N(int64(opts.WaitJitter) + 1))
		}
		if err := util.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	l := &Lease{
		RunID:   runID,
		Token:   token,
		ctx:     leaseCtx,
		cancel:  cancel,
		locker:  lk,
		ttlMs:   ttlMs,
		stopped: make(chan struct{}),
	}
	go l.keepAlive(opts.RenewEvery)
	return l, nil
}

func (lk *Locker) tryAcquire(ctx context.Context, runID, token string, ttlMs int64) (bool, error) {
	var key string
	err := lk.db.QueryRow(ctx, tryAcquireSQL, runID, token, ttlMs).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return key != "", nil
}

// Release stops renewal and deletes the lock row if this lease still owns
// it.
func (l *Lease) Release(ctx context.Context) error {
	l.stopOnce.Do(func() {
		close(l.stopped)
		l.cancel(context.Canceled)
	})
	_, err := l.locker.db.Exec(ctx, releaseSQL, l.RunID, l.Token)
	return err
}

func (l *Lease) keepAlive(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-l.stopped:
			return
		case <-l.ctx.Done():
			return
		case <-t.C:
			if err := l.renew(); err != nil {
				l.cancel(err)
				return
			}
		}
	}
}

func (l *Lease) renew() error {
	_, err := util.RetryWithBackoff(l.ctx, util.BackoffOptions{
		MaxTries:  3,
		BaseDelay: 200 * time.Millisecond,
		Retryable: func(err error) bool { return !errors.Is(err, ErrLost) },
	}, func(ctx context.Context) (struct{}, error) {
		renewCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		var key string
		err := l.locker.db.QueryRow(renewCtx, renewSQL, l.RunID, l.Token, l.ttlMs).Scan(&key)
		if errors.Is(err, pgx.ErrNoRows) {
			return struct{}{}, ErrLost
		}
		return struct{}{}, err
	})
	return err
}

const tryAcquireSQL = `
INSERT INTO run_locks (lock_key, locked_by, expires_at)
VALUES ($1, $2, now() + ($3::bigint * interval '1 millisecond'))
ON CONFLICT (lock_key) DO UPDATE
SET locked_by  = EXCLUDED.locked_by,
    expires_at = EXCLUDED.expires_at
WHERE run_locks.expires_at < now()
   OR run_locks.locked_by = EXCLUDED.locked_by
RETURNING lock_key;
`

const renewSQL = `
UPDATE run_locks
SET expires_at = now() + ($3::bigint * interval '1 millisecond')
WHERE lock_key = $1 AND locked_by = $2
RETURNING lock_key;
`

const releaseSQL = `
DELETE FROM run_locks
WHERE lock_key = $1 AND locked_by = $2;
`
