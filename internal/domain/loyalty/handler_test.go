package loyalty

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uzmarket/marketplace-core/internal/middleware"
)

func asUser(user uuid.UUID) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), middleware.UserIDKey, user)))
		})
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error.Code
}

func TestDailyClaimHandlerSecondClaimIsConflict(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(t, repo, &clock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, tashkent)})
	user := uuid.New()
	router := NewHandler(svc).Routes(asUser(user))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/daily-claim", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/daily-claim", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_CLAIMED_TODAY", errorCode(t, rec))
}

func TestQuoteHandler(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(t, repo, &clock{t: time.Now()})
	user := uuid.New()
	seedPoints(repo, user, 1850)
	router := NewHandler(svc).Routes(asUser(user))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/quote?points=1850&orderAmount=500000", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var env struct {
		Data Quote `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "18.5", env.Data.DiscountPercentage.String())
	assert.Equal(t, "92500", env.Data.DiscountAmount.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/quote?points=1851&orderAmount=500000", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "INSUFFICIENT_POINTS", errorCode(t, rec))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/quote?points=abc&orderAmount=500000", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRedeemHandlerReplayReturnsOK(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(t, repo, &clock{t: time.Now()})
	user := uuid.New()
	seedPoints(repo, user, 3000)
	router := NewHandler(svc).Routes(asUser(user))

	body := `{"order_id":"order-7","points_to_use":1000,"order_amount":"250000"}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/redeem", bytes.NewBufferString(body)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/redeem", bytes.NewBufferString(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	conflicting := `{"order_id":"order-7","points_to_use":500,"order_amount":"250000"}`
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/redeem", bytes.NewBufferString(conflicting)))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "REDEMPTION_CONFLICT", errorCode(t, rec))

	acc, _ := repo.GetAccount(context.Background(), user)
	assert.Equal(t, int64(2000), acc.Points)
}

func TestTiersArePublic(t *testing.T) {
	svc := newTestService(t, newMemRepo(), &clock{t: time.Now()})
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusUnauthorized) })
	}
	router := NewHandler(svc).Routes(deny)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tiers", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/info", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
