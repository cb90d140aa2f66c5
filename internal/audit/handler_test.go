package audit

import (
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psicare/psicare/internal/rbac"
	"github.com/psicare/psicare/internal/shared"
)

func newTestRouter(t *testing.T, repo Repository, role string) http.Handler {
	t.Helper()
	sessions := shared.NewSessionManager(nil, "test_session", "secret", time.Hour, false)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			sess, err := sessions.Load(req.Context(), req)
			require.NoError(t, err)
			if role != "" {
				sess.SetIdentity("1", role)
			}
			next.ServeHTTP(w, req.WithContext(shared.ContextWithSession(req.Context(), sess)))
		})
	})
	r.Route("/api/audit", NewHandler(nil, NewService(repo), rbac.Middleware{}).MountRoutes)
	return r
}

func TestHandlerTimeline(t *testing.T) {
	repo := &stubRepo{rows: sampleRows(3)}
	router := newTestRouter(t, repo, "ADMIN")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audit?page_size=2&entity=role&to=2026-03-10", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var result Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Len(t, result.Rows, 2)
	assert.True(t, result.Paging.HasNext)
	assert.Equal(t, "role", repo.last.Entity.String)
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), repo.last.To.Time)
}

func TestHandlerRejectsBadFilters(t *testing.T) {
	router := newTestRouter(t, &stubRepo{}, "ADMIN")
	for _, query := range []string{"from=yesterday", "page=0", "page=9999999999", "page=200000000", "actor=abc", "from=2026-03-02&to=2026-02-01"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audit?"+query, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
		assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"), query)
	}
}

func TestHandlerExportCSV(t *testing.T) {
	router := newTestRouter(t, &stubRepo{rows: sampleRows(2)}, "ADMIN")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audit/export.csv", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "audit-timeline.csv")

	records, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "actor_id", records[0][1])
	assert.Equal(t, "2026-03-10T10:00:00Z", records[1][0])
}

func TestHandlerRequiresPerfisAccess(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(t, &stubRepo{}, "").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audit", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	newTestRouter(t, &stubRepo{}, "PSICOLOGO").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audit", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
