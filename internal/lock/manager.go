// Package lock provides the per-line ingestion lock.  Locks live in Redis so
// that every process instance, including ones that crashed mid-run, observes
// the same state; natural key expiry recovers locks whose holder died.
package lock

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/cruisesync/internal/clock"
)

var (
	// ErrAlreadyHeld is the expected outcome when another run holds the line.
	ErrAlreadyHeld = errors.New("lock already held")
	// ErrNotOwner means the key exists but carries a different token.
	ErrNotOwner = errors.New("lock held by another owner")
	// ErrLockLost means the key expired or was force-cleared.
	ErrLockLost = errors.New("lock lost")
)

// Token identifies one acquisition.  Only the holder of the token may
// refresh or release the lock.
type Token string

// Info describes an active lock for operators.
type Info struct {
	LineID      int64         `json:"line_id"`
	Token       Token         `json:"token"`
	Owner       string        `json:"owner"`
	AcquiredAt  time.Time     `json:"acquired_at"`
	RefreshedAt time.Time     `json:"refreshed_at"`
	TTL         time.Duration `json:"ttl"`
	Remaining   time.Duration `json:"remaining"`
	Age         time.Duration `json:"age"`
	Stale       bool          `json:"stale"`

	raw string // stored value when listed, for compare-and-delete
}

// Options tune a Manager.
type Options struct {
	Prefix     string        // key prefix, the line id is appended
	StaleAfter time.Duration // time without a refresh after which a lock is reported stale
	Owner      string        // recorded for operators, defaults to the hostname
}

// Manager implements Acquire/Release/Refresh on top of Redis.
type Manager struct {
	rdb   redis.UniversalClient
	opts  Options
	clock clock.Clock
}

// The stored value is "<token>|<acquired ms>|<refreshed ms>|<ttl ms>|<owner>".
// The scripts compare the token prefix so ownership checks and mutations
// happen in one round trip.
var releaseScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return -1 end
if string.sub(v, 1, string.len(ARGV[1]) + 1) ~= ARGV[1] .. '|' then return 0 end
redis.call('DEL', KEYS[1])
return 1
`)

var refreshScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return -1 end
local tok, acquired, refreshed, ttl, owner = string.match(v, '^([^|]*)|([^|]*)|([^|]*)|([^|]*)|(.*)$')
if tok ~= ARGV[1] then return 0 end
redis.call('SET', KEYS[1], tok .. '|' .. acquired .. '|' .. ARGV[3] .. '|' .. ARGV[2] .. '|' .. owner, 'PX', ARGV[2])
return 1
`)

// clearScript deletes a key only if it still holds the listed value.  A
// refresh rewrites the value, so a holder that heartbeats after the listing
// keeps its lock.
var clearScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) ~= ARGV[1] then return 0 end
redis.call('DEL', KEYS[1])
return 1
`)

// NewManager builds a Manager.  A nil clock means the wall clock.
func NewManager(rdb redis.UniversalClient, opts Options, clk clock.Clock) *Manager {
	if rdb == nil {
		panic("nil redis client passed to lock.NewManager")
	}
	if opts.Prefix == "" {
		opts.Prefix = "cruisesync:lock:line"
	}
	if opts.Owner == "" {
		if h, err := os.Hostname(); err == nil {
			opts.Owner = h
		} else {
			opts.Owner = "unknown"
		}
	}
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &Manager{rdb: rdb, opts: opts, clock: clk}
}

func (m *Manager) key(lineID int64) string {
	return m.opts.Prefix + ":" + strconv.FormatInt(lineID, 10)
}

// Acquire takes the lock for lineID with a single SET NX PX.  ErrAlreadyHeld
// is returned when another holder exists.
func (m *Manager) Acquire(ctx context.Context, lineID int64, ttl time.Duration) (Token, error) {
	if ttl <= 0 {
		return "", errors.Newf("lock ttl must be positive, got %s", ttl)
	}
	tok := Token(uuid.NewString())
	now := m.clock.Now().UnixMilli()
	val := fmt.Sprintf("%s|%d|%d|%d|%s", tok, now, now, ttl.Milliseconds(), m.opts.Owner)
	ok, err := m.rdb.SetNX(ctx, m.key(lineID), val, ttl).Result()
	if err != nil {
		return "", errors.Wrapf(err, "acquire lock for line %d", lineID)
	}
	if !ok {
		return "", ErrAlreadyHeld
	}
	return tok, nil
}

// Release deletes the lock if tok still owns it.
func (m *Manager) Release(ctx context.Context, lineID int64, tok Token) error {
	res, err := releaseScript.Run(ctx, m.rdb, []string{m.key(lineID)}, string(tok)).Int()
	if err != nil {
		return errors.Wrapf(err, "release lock for line %d", lineID)
	}
	return scriptResult(res)
}

// Refresh extends the TTL and stamps the refresh time if tok still owns the
// lock.  A run must stop writing when this returns ErrLockLost or
// ErrNotOwner.
func (m *Manager) Refresh(ctx context.Context, lineID int64, tok Token, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.Newf("lock ttl must be positive, got %s", ttl)
	}
	res, err := refreshScript.Run(ctx, m.rdb, []string{m.key(lineID)},
		string(tok), ttl.Milliseconds(), m.clock.Now().UnixMilli()).Int()
	if err != nil {
		return errors.Wrapf(err, "refresh lock for line %d", lineID)
	}
	return scriptResult(res)
}

// Check reports whether tok still owns the lock without mutating it.
func (m *Manager) Check(ctx context.Context, lineID int64, tok Token) error {
	v, err := m.rdb.Get(ctx, m.key(lineID)).Result()
	if errors.Is(err, redis.Nil) {
		return ErrLockLost
	}
	if err != nil {
		return errors.Wrapf(err, "check lock for line %d", lineID)
	}
	if !strings.HasPrefix(v, string(tok)+"|") {
		return ErrNotOwner
	}
	return nil
}

func scriptResult(res int) error {
	switch res {
	case 1:
		return nil
	case 0:
		return ErrNotOwner
	default:
		return ErrLockLost
	}
}

// ListActive returns every live lock ordered by line id.
func (m *Manager) ListActive(ctx context.Context) ([]Info, error) {
	now := m.clock.Now()
	var out []Info
	iter := m.rdb.Scan(ctx, 0, m.opts.Prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		lineID, err := strconv.ParseInt(strings.TrimPrefix(key, m.opts.Prefix+":"), 10, 64)
		if err != nil {
			continue
		}
		v, err := m.rdb.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue // released between SCAN and GET
		}
		if err != nil {
			return nil, errors.Wrapf(err, "read lock %s", key)
		}
		remaining, err := m.rdb.PTTL(ctx, key).Result()
		if err != nil {
			return nil, errors.Wrapf(err, "read ttl of %s", key)
		}
		out = append(out, m.describe(lineID, v, remaining, now))
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "scan locks")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LineID < out[j].LineID })
	return out, nil
}

func (m *Manager) describe(lineID int64, raw string, remaining time.Duration, now time.Time) Info {
	info := Info{LineID: lineID, Remaining: remaining, raw: raw}
	parts := strings.SplitN(raw, "|", 5)
	if len(parts) == 5 {
		info.Token = Token(parts[0])
		info.AcquiredAt = unixMilli(parts[1])
		info.RefreshedAt = unixMilli(parts[2])
		if ms, err := strconv.ParseInt(parts[3], 10, 64); err == nil {
			info.TTL = time.Duration(ms) * time.Millisecond
		}
		info.Owner = parts[4]
	}
	if !info.AcquiredAt.IsZero() {
		info.Age = now.Sub(info.AcquiredAt)
	}
	// A live holder refreshes every third of its TTL, so only a missed
	// heartbeat makes the refresh time fall behind.  A key without expiry
	// (remaining < 0) was written by hand and will never clear itself.
	silent := now.Sub(info.RefreshedAt)
	info.Stale = remaining < 0 || info.RefreshedAt.IsZero() ||
		(info.TTL > 0 && silent > info.TTL) ||
		(m.opts.StaleAfter > 0 && silent > m.opts.StaleAfter)
	return info
}

func unixMilli(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// ForceClear deletes the lock for lineID regardless of owner.  It reports
// whether a lock existed.
func (m *Manager) ForceClear(ctx context.Context, lineID int64) (bool, error) {
	n, err := m.rdb.Del(ctx, m.key(lineID)).Result()
	if err != nil {
		return false, errors.Wrapf(err, "force clear lock for line %d", lineID)
	}
	return n > 0, nil
}

// ClearStale removes every lock reported stale.  Each key is deleted only if
// it still holds the value that was judged, so a lock refreshed or
// re-acquired after listing is left alone.
func (m *Manager) ClearStale(ctx context.Context) ([]int64, error) {
	active, err := m.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	var cleared []int64
	for _, l := range active {
		if !l.Stale {
			continue
		}
		ok, err := m.clearIfUnchanged(ctx, l)
		if err != nil {
			return cleared, err
		}
		if ok {
			cleared = append(cleared, l.LineID)
		}
	}
	return cleared, nil
}

func (m *Manager) clearIfUnchanged(ctx context.Context, l Info) (bool, error) {
	res, err := clearScript.Run(ctx, m.rdb, []string{m.key(l.LineID)}, l.raw).Int()
	if err != nil {
		return false, errors.Wrapf(err, "clear stale lock for line %d", l.LineID)
	}
	return res == 1, nil
}

// Ping reports whether the lock store is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	return m.rdb.Ping(ctx).Err()
}
