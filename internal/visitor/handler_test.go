package visitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"github.com/tckz/visitor-counter/internal/counter"
)

type stubCounter struct {
	up  func() (int64, error)
	get func() (int64, error)
	set func(v int64) error
}

func (c *stubCounter) Up(ctx context.Context) (int64, error)  { return c.up() }
func (c *stubCounter) Get(ctx context.Context) (int64, error) { return c.get() }
func (c *stubCounter) Set(ctx context.Context, v int64) error { return c.set(v) }

func newTestHandler(t *testing.T, c counter.Counter) http.Handler {
	t.Helper()
	return NewHandler(c, zaptest.NewLogger(t).Sugar()).Routes()
}

func doGet(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestIndex_IgnoresStore(t *testing.T) {
	called := false
	h := newTestHandler(t, &stubCounter{
		up:  func() (int64, error) { called = true; return 0, counter.ErrStoreUnavailable },
		get: func() (int64, error) { called = true; return 0, counter.ErrStoreUnavailable },
		set: func(int64) error { called = true; return counter.ErrStoreUnavailable },
	})

	rec := doGet(t, h, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, Banner, rec.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.False(t, called)
}

func TestVisit_SequenceFromExistingValue(t *testing.T) {
	c := counter.NewLocalCounter("visitor")
	require.NoError(t, c.Set(context.Background(), 7))
	h := newTestHandler(t, c)

	for k := int64(1); k <= 5; k++ {
		rec := doGet(t, h, "/visitor")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, fmt.Sprintf("Visit Number = : %d", 7+k), rec.Body.String())
	}
}

func TestReset_ThenVisit(t *testing.T) {
	c := counter.NewLocalCounter("visitor")
	h := newTestHandler(t, c)

	for i := 0; i < 3; i++ {
		doGet(t, h, "/visitor")
	}

	rec := doGet(t, h, "/visitor/reset")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Visitor Count has been reset to 0", rec.Body.String())

	rec = doGet(t, h, "/visitor")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Visit Number = : 1", rec.Body.String())
}

func TestReset_Idempotent(t *testing.T) {
	h := newTestHandler(t, counter.NewLocalCounter("visitor"))

	for i := 0; i < 2; i++ {
		rec := doGet(t, h, "/visitor/reset")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Visitor Count has been reset to 0", rec.Body.String())
	}
}

func TestStoreErrors(t *testing.T) {
	ok := func() (int64, error) { return 0, nil }
	tests := []struct {
		name     string
		counter  *stubCounter
		path     string
		wantCode int
		wantBody string
	}{
		{
			name:     "visit unavailable",
			counter:  &stubCounter{up: func() (int64, error) { return 0, fmt.Errorf("%w: dial", counter.ErrStoreUnavailable) }},
			path:     "/visitor",
			wantCode: http.StatusServiceUnavailable,
			wantBody: "store unavailable",
		},
		{
			name:     "reset set unavailable",
			counter:  &stubCounter{set: func(int64) error { return fmt.Errorf("%w: dial", counter.ErrStoreUnavailable) }, get: ok},
			path:     "/visitor/reset",
			wantCode: http.StatusServiceUnavailable,
			wantBody: "store unavailable",
		},
		{
			name:     "reset read-back missing",
			counter:  &stubCounter{set: func(int64) error { return nil }, get: func() (int64, error) { return 0, fmt.Errorf("%w: no value", counter.ErrStoreProtocol) }},
			path:     "/visitor/reset",
			wantCode: http.StatusInternalServerError,
			wantBody: "store protocol error",
		},
		{
			name:     "unclassified",
			counter:  &stubCounter{up: func() (int64, error) { return 0, errors.New("boom") }},
			path:     "/visitor",
			wantCode: http.StatusInternalServerError,
			wantBody: "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doGet(t, newTestHandler(t, tt.counter), tt.path)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestPanicIsContained(t *testing.T) {
	h := newTestHandler(t, &stubCounter{up: func() (int64, error) { panic("store client bug") }})

	rec := doGet(t, h, "/visitor")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = doGet(t, h, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPanicIsAccessLogged(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := NewHandler(&stubCounter{up: func() (int64, error) { panic("store client bug") }}, zap.New(core).Sugar()).Routes()

	req := httptest.NewRequest(http.MethodGet, "/visitor", nil)
	req.Header.Set(HeaderRequestID, "req-panic")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	entries := logs.FilterMessage("access").AllUntimed()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-panic", fields["requestID"])
	assert.Equal(t, int64(http.StatusInternalServerError), fields["status"])
	assert.Equal(t, "/visitor", fields["path"])
}

func TestHead(t *testing.T) {
	h := newTestHandler(t, counter.NewLocalCounter("visitor"))

	for _, path := range []string{"/", "/visitor", "/visitor/reset"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestRouting(t *testing.T) {
	h := newTestHandler(t, counter.NewLocalCounter("visitor"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/visitor", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = doGet(t, h, "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestID(t *testing.T) {
	h := newTestHandler(t, counter.NewLocalCounter("visitor"))

	rec := doGet(t, h, "/")
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(HeaderRequestID))
}

func newRedisCounter(t *testing.T, addr string) counter.Counter {
	t.Helper()
	cl := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:       []string{addr},
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { cl.Close() })
	return counter.NewRedisCounter(cl, "visitor")
}

func fetch(ctx context.Context, url string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, "", err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	return res.StatusCode, string(b), err
}

func TestConcurrentVisits(t *testing.T) {
	stores := map[string]func(t *testing.T) counter.Counter{
		"memory": func(t *testing.T) counter.Counter { return counter.NewLocalCounter("visitor") },
		"redis": func(t *testing.T) counter.Counter {
			return newRedisCounter(t, miniredis.RunT(t).Addr())
		},
	}

	for name, mk := range stores {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(newTestHandler(t, mk(t)))
			defer srv.Close()

			const m = 50
			got := make([]int64, m)
			eg, ctx := errgroup.WithContext(context.Background())
			for i := 0; i < m; i++ {
				i := i
				eg.Go(func() error {
					code, body, err := fetch(ctx, srv.URL+"/visitor")
					if err != nil {
						return err
					}
					if code != http.StatusOK {
						return fmt.Errorf("status=%d body=%s", code, body)
					}
					got[i], err = ParseVisit(body)
					return err
				})
			}
			require.NoError(t, eg.Wait())

			dups, missing := CheckSequence(got, 0)
			assert.Empty(t, dups)
			assert.Empty(t, missing)
		})
	}
}

func TestUnreachableRedis(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	addr := mr.Addr()
	mr.Close()

	h := newTestHandler(t, newRedisCounter(t, addr))

	rec := doGet(t, h, "/visitor")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doGet(t, h, "/visitor/reset")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doGet(t, h, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, Banner, rec.Body.String())
}

func TestRedisResetThenVisit(t *testing.T) {
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("visitor", "12"))
	h := newTestHandler(t, newRedisCounter(t, mr.Addr()))

	rec := doGet(t, h, "/visitor")
	assert.Equal(t, "Visit Number = : 13", rec.Body.String())

	rec = doGet(t, h, "/visitor/reset")
	assert.Equal(t, "Visitor Count has been reset to 0", rec.Body.String())

	rec = doGet(t, h, "/visitor")
	assert.Equal(t, "Visit Number = : 1", rec.Body.String())
}
