package scope

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emergent-company/emergent.graph/pkg/apperror"
)

func run(t *testing.T, mw echo.MiddlewareFunc, method, header string) (echo.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, "/", nil)
	if header != "" {
		req.Header.Set(Header, header)
	}
	c := e.NewContext(req, httptest.NewRecorder())
	err := mw(func(c echo.Context) error { return nil })(c)
	return c, err
}

func TestRequireProject(t *testing.T) {
	id := uuid.New()

	t.Run("valid header", func(t *testing.T) {
		c, err := run(t, RequireProject(), http.MethodGet, id.String())
		require.NoError(t, err)
		assert.Equal(t, id, ProjectID(c))
	})

	t.Run("missing header", func(t *testing.T) {
		_, err := run(t, RequireProject(), http.MethodGet, "")
		assert.ErrorIs(t, err, apperror.ErrBadRequest)
	})

	t.Run("malformed header", func(t *testing.T) {
		_, err := run(t, RequireProject(), http.MethodGet, "not-a-uuid")
		assert.ErrorIs(t, err, apperror.ErrBadRequest)
	})
}

func TestProjectIDUnset(t *testing.T) {
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	assert.Equal(t, uuid.Nil, ProjectID(c))
}

func TestWriteLimiterPerProject(t *testing.T) {
	l := NewWriteLimiter(1, 2)
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	a, b := uuid.New(), uuid.New()
	assert.True(t, l.Allow(a))
	assert.True(t, l.Allow(a))
	assert.False(t, l.Allow(a), "burst exhausted")
	assert.True(t, l.Allow(b), "other projects keep their own bucket")

	now = now.Add(time.Second)
	assert.True(t, l.Allow(a), "one token refilled")
}

func TestWriteLimiterDisabled(t *testing.T) {
	l := NewWriteLimiter(0, 0)
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow(uuid.New()))
	}
}

func TestWriteLimiterEvictsIdle(t *testing.T) {
	l := NewWriteLimiter(1, 1)
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	l.Allow(uuid.New())
	now = now.Add(2 * idleLimiterTTL)
	l.Allow(uuid.New())

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Len(t, l.limiters, 1)
}

func TestWriteLimiterMiddleware(t *testing.T) {
	l := NewWriteLimiter(1, 1)
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	project := uuid.New()
	e := echo.New()
	call := func(method string) (*httptest.ResponseRecorder, error) {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(method, "/", nil), rec)
		SetProjectID(c, project)
		return rec, l.Middleware()(func(echo.Context) error { return nil })(c)
	}

	_, err := call(http.MethodPost)
	require.NoError(t, err)

	rec, err := call(http.MethodPatch)
	assert.ErrorIs(t, err, apperror.ErrTooManyRequests)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	_, err = call(http.MethodGet)
	assert.NoError(t, err, "reads are not limited")
}
