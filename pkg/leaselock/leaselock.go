package leaselock

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrBusy = errors.New("merge lease busy")
	ErrLost = errors.New("merge lease lost")
)

type dbConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Client hands out per-user merge leases backed by the merge_locks table.
// A lease serializes the merge-and-rebuild phase of concurrent sessions of
// the same user across processes; the in-process arena mutex only covers
// one process.
type Client struct {
	db dbConn
}

// Options tunes lease TTL, renewal cadence, and waiting behavior.
type Options struct {
	TTL        time.Duration
	RenewEvery time.Duration

	Wait         bool
	WaitInterval time.Duration
	WaitJitter   time.Duration
}

// Lease is one held per-user lease. Context is canceled when the lease is
// lost or released, so work guarded by the lease should run under it.
type Lease struct {
	UserID string
	Token  string

	Context context.Context

	client *Client
	cancel context.CancelCauseFunc

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a lease client on a pgx pool.
func New(pool *pgxpool.Pool) *Client {
	return &Client{db: pool}
}

// WithLease acquires the user's merge lease, runs fn under the lease
// context, and releases the lease afterwards.
func (c *Client) WithLease(ctx context.Context, userID string, opts Options, fn func(ctx context.Context) error) error {
	lease, err := c.Acquire(ctx, userID, opts)
	if err != nil {
		return err
	}
	defer func() {
		_ = lease.Release(context.Background())
	}()
	return fn(lease.Context)
}

// Acquire takes the merge lease for a user. With Wait set it polls with
// jitter until the lease frees up; otherwise a held lease returns ErrBusy.
func (c *Client) Acquire(ctx context.Context, userID string, opts Options) (*Lease, error) {
	if userID == "" {
		return nil, errors.New("merge lease user id is empty")
	}

	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Minute
	}
	ttlMs := opts.TTL.Milliseconds()
	if opts.RenewEvery <= 0 || opts.RenewEvery >= opts.TTL {
		opts.RenewEvery = max(opts.TTL/2, time.Second)
	}
	if opts.WaitInterval <= 0 {
		opts.WaitInterval = 250 * time.Millisecond
	}
	if opts.WaitJitter < 0 {
		opts.WaitJitter = 0
	}

	token, err := gonanoid.New()
	if err != nil {
		return nil, err
	}

	acquireOnce := func(ctx context.Context) (bool, error) {
		var returnedID string
		err := c.db.QueryRow(ctx, tryAcquireSQL, userID, token, ttlMs).Scan(&returnedID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return false, nil
			}
			return false, err
		}
		return returnedID != "", nil
	}

	for {
		ok, err := acquireOnce(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		if !opts.Wait {
			return nil, ErrBusy
		}
		if err := sleepWithJitter(ctx, opts.WaitInterval, opts.WaitJitter); err != nil {
			return nil, err
		}
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	l := &Lease{
		UserID:  userID,
		Token:   token,
		Context: leaseCtx,
		client:  c,
		cancel:  cancel,
		stopCh:  make(chan struct{}),
	}

	go l.renewLoop(opts, ttlMs)

	return l, nil
}

// Release drops the lease and cancels its context. Safe to call twice.
func (l *Lease) Release(ctx context.Context) error {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		l.cancel(context.Canceled)
	})

	_, err := l.client.db.Exec(ctx, releaseSQL, l.UserID, l.Token)
	return err
}

func (l *Lease) renewLoop(opts Options, ttlMs int64) {
	t := time.NewTicker(opts.RenewEvery)
	defer t.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-l.Context.Done():
			return
		case <-t.C:
			if err := l.renewOnce(ttlMs); err != nil {
				l.cancel(err)
				return
			}
		}
	}
}

func (l *Lease) renewOnce(ttlMs int64) error {
	for attempt := range 3 {
		renewCtx, cancel := context.WithTimeout(l.Context, 15*time.Second)
		var returnedID string
		err := l.client.db.QueryRow(renewCtx, renewSQL, l.UserID, l.Token, ttlMs).Scan(&returnedID)
		cancel()
		if err == nil {
			return nil
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrLost
		}
		if attempt == 2 {
			return err
		}
		if err := sleepWithJitter(l.Context, 200*time.Millisecond, 0); err != nil {
			return err
		}
	}
	return ErrLost
}

func sleepWithJitter(ctx context.Context, base, jitter time.Duration) error {
	d := base
	if jitter > 0 {
		d += time.Duration(rand.Int64N(int64(jitter) + 1))
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

const tryAcquireSQL = `
INSERT INTO merge_locks (user_id, locked_by, expires_at)
VALUES ($1, $2, now() + ($3::bigint * interval '1 millisecond'))
ON CONFLICT (user_id) DO UPDATE
SET locked_by  = EXCLUDED.locked_by,
    expires_at = EXCLUDED.expires_at
WHERE merge_locks.expires_at < now()
   OR merge_locks.locked_by = EXCLUDED.locked_by
RETURNING user_id;
`

const renewSQL = `
UPDATE merge_locks
SET expires_at = now() + ($3::bigint * interval '1 millisecond')
WHERE user_id = $1 AND locked_by = $2
RETURNING user_id;
`

const releaseSQL = `
DELETE FROM merge_locks
WHERE user_id = $1 AND locked_by = $2;
`
