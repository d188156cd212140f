package feed

import (
	"context"
	"net/textproto"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jlaffaye/ftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cruisesync/internal/clock"
	"github.com/iliyamo/cruisesync/internal/logger"
	"github.com/iliyamo/cruisesync/internal/metrics"
)

// fakeServer is an in-memory feed with scripted transient failures.
type fakeServer struct {
	mu       sync.Mutex
	files    map[string][]byte
	failures map[string]int // remaining transient failures per path
	reads    map[string]int
	dials    atomic.Int32
	quits    atomic.Int32
	dialErr  error
}

func newFakeServer() *fakeServer {
	return &fakeServer{files: map[string][]byte{}, failures: map[string]int{}, reads: map[string]int{}}
}

func (s *fakeServer) dial(context.Context) (Conn, error) {
	s.dials.Add(1)
	if s.dialErr != nil {
		return nil, s.dialErr
	}
	return &fakeConn{s: s}, nil
}

type fakeConn struct{ s *fakeServer }

func (c *fakeConn) failing(p string) bool {
	if c.s.failures[p] > 0 {
		c.s.failures[p]--
		return true
	}
	return false
}

func (c *fakeConn) List(dir string) ([]*ftp.Entry, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if c.failing(dir) {
		return nil, errors.New("connection reset by peer")
	}
	seen := map[string]bool{}
	var out []*ftp.Entry
	for p := range c.s.files {
		if !hasDirPrefix(p, dir) {
			continue
		}
		rest := p[len(dir)+1:]
		name, isDir := rest, false
		for i := 0; i < len(rest); i++ {
			if rest[i] == '/' {
				name, isDir = rest[:i], true
				break
			}
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		typ := ftp.EntryTypeFile
		if isDir {
			typ = ftp.EntryTypeFolder
		}
		out = append(out, &ftp.Entry{Name: name, Type: typ})
	}
	if len(out) == 0 {
		return nil, &textproto.Error{Code: ftp.StatusFileUnavailable, Msg: "No such file or directory"}
	}
	return out, nil
}

func hasDirPrefix(p, dir string) bool {
	return len(p) > len(dir)+1 && p[:len(dir)] == dir && p[len(dir)] == '/'
}

func (c *fakeConn) Read(file string) ([]byte, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.reads[file]++
	if c.failing(file) {
		return nil, errors.New("unexpected EOF")
	}
	b, ok := c.s.files[file]
	if !ok {
		return nil, &textproto.Error{Code: ftp.StatusFileUnavailable, Msg: "No such file"}
	}
	return b, nil
}

func (c *fakeConn) NoOp() error { return nil }
func (c *fakeConn) Quit() error { c.s.quits.Add(1); return nil }

func newTestFetcher(t *testing.T, s *fakeServer, now time.Time) *Fetcher {
	t.Helper()
	cfg := Config{
		Root:           "/",
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		MonthsAhead:    2,
	}
	f := NewFetcher(NewPool(s.dial, 2), cfg, clock.NewMockClock(now), logger.NewNop(), metrics.NewNop())
	t.Cleanup(f.Close)
	return f
}

func TestListSailings_WalksMonthsAndShips(t *testing.T) {
	s := newFakeServer()
	s.files["/2026/03/21/410/900123.json"] = []byte("{}")
	s.files["/2026/03/21/410/900124.json"] = []byte("{}")
	s.files["/2026/05/21/411/900200.json"] = []byte("{}")
	s.files["/2026/05/21/411/readme.txt"] = []byte("x")
	s.files["/2026/04/22/500/1.json"] = []byte("{}")  // another line
	s.files["/2026/09/21/410/900999.json"] = []byte("{}") // outside the window

	f := newTestFetcher(t, s, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC))
	refs, err := f.ListSailings(context.Background(), 21)
	require.NoError(t, err)

	var paths []string
	for _, r := range refs {
		paths = append(paths, r.Path)
	}
	assert.Equal(t, []string{
		"2026/03/21/410/900123.json",
		"2026/03/21/410/900124.json",
		"2026/05/21/411/900200.json",
	}, paths)
	assert.Equal(t, int64(411), refs[2].ShipID)
	assert.Equal(t, int64(900200), refs[2].SailingID)
}

func TestFetch_RetriesTransientFailures(t *testing.T) {
	s := newFakeServer()
	s.files["/2026/03/21/410/900123.json"] = []byte(`{"codetocruiseid":900123}`)
	s.failures["/2026/03/21/410/900123.json"] = 2

	f := newTestFetcher(t, s, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	body, err := f.Fetch(context.Background(), BuildRef(2026, 3, 21, 410, 900123))
	require.NoError(t, err)
	assert.JSONEq(t, `{"codetocruiseid":900123}`, string(body))
	assert.Equal(t, 3, s.reads["/2026/03/21/410/900123.json"])
}

func TestFetch_GivesUpAfterMaxAttempts(t *testing.T) {
	s := newFakeServer()
	s.files["/2026/03/21/410/900123.json"] = []byte(`{}`)
	s.failures["/2026/03/21/410/900123.json"] = 5

	f := newTestFetcher(t, s, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	_, err := f.Fetch(context.Background(), BuildRef(2026, 3, 21, 410, 900123))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFetchFailed))
	assert.False(t, errors.Is(err, ErrTransportUnavailable))
	assert.Equal(t, 3, s.reads["/2026/03/21/410/900123.json"])
}

func TestFetch_MissingFileIsNotRetried(t *testing.T) {
	s := newFakeServer()
	f := newTestFetcher(t, s, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	_, err := f.Fetch(context.Background(), BuildRef(2026, 3, 21, 410, 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFetchFailed))
	assert.Equal(t, 1, s.reads["/2026/03/21/410/1.json"])
}

func TestFetch_UnreachableServer(t *testing.T) {
	s := newFakeServer()
	s.dialErr = errors.New("dial tcp: connection refused")
	f := newTestFetcher(t, s, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	_, err := f.Fetch(context.Background(), BuildRef(2026, 3, 21, 410, 1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransportUnavailable))
	assert.Equal(t, int32(3), s.dials.Load())

	_, err = f.ListSailings(context.Background(), 21)
	assert.True(t, errors.Is(err, ErrTransportUnavailable))
}

func TestPool_ReusesHealthySessions(t *testing.T) {
	s := newFakeServer()
	s.files["/a/1.json"] = []byte("{}")
	p := NewPool(s.dial, 1)
	ctx := context.Background()

	c, err := p.Get(ctx)
	require.NoError(t, err)
	p.Put(c, true)
	c, err = p.Get(ctx)
	require.NoError(t, err)
	p.Put(c, false)
	_, err = p.Get(ctx)
	require.NoError(t, err)

	assert.Equal(t, int32(2), s.dials.Load())
	assert.Equal(t, int32(1), s.quits.Load())
}

func TestPool_BoundsConcurrentSessions(t *testing.T) {
	s := newFakeServer()
	p := NewPool(s.dial, 1)

	c, err := p.Get(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	p.Put(c, true)
}

func TestParsePath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "2026/05/21/410/900123.json", want: "2026/05/21/410/900123.json"},
		{in: "/2026/05/21/410/900123.json", want: "2026/05/21/410/900123.json"},
		{in: "/cruise/2026/05/21/410/900123.json", want: "2026/05/21/410/900123.json"},
		{in: "2026/13/21/410/900123.json", wantErr: true},
		{in: "2026/05/21/410/900123.xml", wantErr: true},
		{in: "2026/05/21/abc/900123.json", wantErr: true},
		{in: "2026/05/21/900123.json", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ref, err := ParsePath(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ref.Path)
			assert.Equal(t, int64(21), ref.LineID)
			assert.Equal(t, int64(900123), ref.SailingID)
		})
	}
}
