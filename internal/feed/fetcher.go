// Package feed pulls the supplier's per-sailing JSON documents from its FTP
// server.  Sessions are pooled, every operation is rate limited, and
// transient failures are retried with bounded exponential backoff.
package feed

import (
	"context"
	"net/textproto"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/jlaffaye/ftp"
	"golang.org/x/time/rate"

	"github.com/iliyamo/cruisesync/internal/clock"
	"github.com/iliyamo/cruisesync/internal/logger"
	"github.com/iliyamo/cruisesync/internal/metrics"
)

var (
	// ErrFetchFailed marks a single file that could not be retrieved.  It is
	// recorded against the sailing and the run continues.
	ErrFetchFailed = errors.New("feed fetch failed")
	// ErrTransportUnavailable means no session could be established at all.
	ErrTransportUnavailable = errors.New("feed transport unavailable")
	// ErrNotFound is returned for missing files or directories.
	ErrNotFound = errors.New("feed path not found")

	errDial = errors.New("dial failed")
)

// Config tunes a Fetcher.
type Config struct {
	Root           string
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	RPS            float64
	Burst          int
	MonthsAhead    int
}

// Fetcher lists and downloads sailing documents.
type Fetcher struct {
	pool    *Pool
	cfg     Config
	limiter *rate.Limiter
	clock   clock.Clock
	log     logger.Logger
	metrics *metrics.Metrics
}

// NewFetcher builds a Fetcher on top of pool.
func NewFetcher(pool *Pool, cfg Config, clk clock.Clock, log logger.Logger, m *metrics.Metrics) *Fetcher {
	if pool == nil || clk == nil || log == nil || m == nil {
		panic("nil dependency passed to feed.NewFetcher")
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Root == "" {
		cfg.Root = "/"
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	return &Fetcher{
		pool:    pool,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		clock:   clk,
		log:     log.With("component", "feed"),
		metrics: m,
	}
}

// ListSailings enumerates the documents of lineID from the current month
// through MonthsAhead months ahead.  Months without a directory for the line
// are skipped.
func (f *Fetcher) ListSailings(ctx context.Context, lineID int64) ([]FileRef, error) {
	now := f.clock.Now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	var refs []FileRef
	for i := 0; i <= f.cfg.MonthsAhead; i++ {
		m := start.AddDate(0, i, 0)
		year, month := m.Year(), int(m.Month())
		dir := path.Join(f.cfg.Root, monthDir(year, month, lineID))

		ships, err := f.list(ctx, dir)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "list %s", dir)
		}
		for _, ship := range ships {
			if ship.Type != ftp.EntryTypeFolder {
				continue
			}
			shipID, err := strconv.ParseInt(ship.Name, 10, 64)
			if err != nil {
				continue
			}
			files, err := f.list(ctx, path.Join(dir, ship.Name))
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, errors.Wrapf(err, "list ship %d", shipID)
			}
			for _, file := range files {
				if file.Type != ftp.EntryTypeFile || !strings.HasSuffix(file.Name, ".json") {
					continue
				}
				sailingID, err := strconv.ParseInt(strings.TrimSuffix(file.Name, ".json"), 10, 64)
				if err != nil {
					f.log.Warn("skipping unexpected feed file", "dir", dir, "name", file.Name)
					continue
				}
				refs = append(refs, BuildRef(year, month, lineID, shipID, sailingID))
			}
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Path < refs[j].Path })
	return refs, nil
}

// Fetch downloads one document.  Failures are marked ErrFetchFailed, or
// ErrTransportUnavailable when no session could be opened.
func (f *Fetcher) Fetch(ctx context.Context, ref FileRef) ([]byte, error) {
	full := path.Join(f.cfg.Root, ref.Path)
	var body []byte
	err := f.do(ctx, "retr", func(c Conn) error {
		b, err := c.Read(full)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		f.metrics.FetchFailures.Inc()
		if !errors.Is(err, ErrTransportUnavailable) && ctx.Err() == nil {
			err = errors.Mark(err, ErrFetchFailed)
		}
		return nil, errors.Wrapf(err, "fetch %s", ref.Path)
	}
	return body, nil
}

// Ping opens (or reuses) a session and sends NOOP once, without retries.
func (f *Fetcher) Ping(ctx context.Context) error {
	c, err := f.pool.Get(ctx)
	if err != nil {
		return errors.Mark(err, ErrTransportUnavailable)
	}
	err = c.NoOp()
	f.pool.Put(c, err == nil)
	return err
}

// Close releases pooled sessions.
func (f *Fetcher) Close() {
	f.pool.Close()
}

func (f *Fetcher) list(ctx context.Context, dir string) ([]*ftp.Entry, error) {
	var entries []*ftp.Entry
	err := f.do(ctx, "list", func(c Conn) error {
		e, err := c.List(dir)
		if err != nil {
			return err
		}
		entries = e
		return nil
	})
	return entries, err
}

// do runs op on a pooled session with rate limiting and retries.  Missing
// paths are not retried.  When the final attempt could not even dial, the
// error is marked ErrTransportUnavailable.
func (f *Fetcher) do(ctx context.Context, op string, fn func(Conn) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.cfg.InitialBackoff
	b.MaxInterval = f.cfg.MaxBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(f.cfg.MaxAttempts-1)), ctx)

	err := backoff.RetryNotify(func() error {
		if err := f.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		c, err := f.pool.Get(ctx)
		if err != nil {
			return err
		}
		err = fn(c)
		switch {
		case err == nil:
			f.pool.Put(c, true)
			return nil
		case isNotFound(err):
			f.pool.Put(c, true)
			return backoff.Permanent(errors.Mark(err, ErrNotFound))
		default:
			f.pool.Put(c, false)
			return err
		}
	}, policy, func(err error, wait time.Duration) {
		f.metrics.FetchRetries.Inc()
		f.log.Warn("feed operation failed, retrying", "op", op, "wait", wait, "error", err)
	})
	if err != nil && errors.Is(err, errDial) {
		return errors.Mark(err, ErrTransportUnavailable)
	}
	return err
}

func isNotFound(err error) bool {
	var tp *textproto.Error
	return errors.As(err, &tp) && tp.Code == ftp.StatusFileUnavailable
}
