package lark

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitable-report/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, AppID: "cli_app", AppSecret: "s3cret"}, discardLogger())
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&m))
	return m
}

func TestAuthClient_ExchangeCode(t *testing.T) {
	var appTokenCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+appTokenPath, func(w http.ResponseWriter, r *http.Request) {
		appTokenCalls.Add(1)
		body := decodeBody(t, r)
		assert.Equal(t, "cli_app", body["app_id"])
		writeJSON(t, w, map[string]any{"code": 0, "msg": "ok", "app_access_token": "a-123", "expire": 7200})
	})
	mux.HandleFunc("POST "+userTokenPath, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer a-123", r.Header.Get("Authorization"))
		body := decodeBody(t, r)
		assert.Equal(t, "authorization_code", body["grant_type"])
		assert.Equal(t, "the-code", body["code"])
		writeJSON(t, w, map[string]any{"code": 0, "msg": "ok", "data": map[string]any{
			"access_token": "u-1", "refresh_token": "ur-1", "token_type": "Bearer", "expires_in": 7200,
		}})
	})
	auth := NewAuthClient(newTestClient(t, mux), "", "")

	for i := 0; i < 2; i++ {
		grant, err := auth.ExchangeCode(context.Background(), "the-code")
		require.NoError(t, err)
		assert.Equal(t, "u-1", grant.AccessToken)
		assert.Equal(t, "ur-1", grant.RefreshToken)
		assert.Equal(t, 2*time.Hour, grant.ExpiresIn)
	}
	assert.Equal(t, int32(1), appTokenCalls.Load(), "app token is cached")
}

func TestAuthClient_Refresh(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("POST "+refreshTokenPath, func(w http.ResponseWriter, r *http.Request) {
			body := decodeBody(t, r)
			assert.Equal(t, "refresh_token", body["grant_type"])
			assert.Equal(t, "ur-1", body["refresh_token"])
			assert.Equal(t, "s3cret", body["app_secret"])
			writeJSON(t, w, map[string]any{"code": 0, "data": map[string]any{
				"access_token": "u-2", "expires_in": 6900,
			}})
		})
		auth := NewAuthClient(newTestClient(t, mux), "", "")

		grant, err := auth.Refresh(context.Background(), "ur-1")
		require.NoError(t, err)
		assert.Equal(t, "u-2", grant.AccessToken)
		assert.Empty(t, grant.RefreshToken)
	})

	t.Run("non_zero_code_is_gateway_error", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("POST "+refreshTokenPath, func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(t, w, map[string]any{"code": 20026, "msg": "refresh token invalid"})
		})
		auth := NewAuthClient(newTestClient(t, mux), "", "")

		_, err := auth.Refresh(context.Background(), "bad")

		var gw *domain.GatewayError
		require.ErrorAs(t, err, &gw)
		assert.Equal(t, 20026, gw.Code)
		assert.Equal(t, http.StatusOK, gw.Status)
	})
}

func TestAuthClient_AuthCodeURL(t *testing.T) {
	c := NewClient(Config{AppID: "cli_app", AppSecret: "x"}, discardLogger())
	auth := NewAuthClient(c, "https://accounts.example.com/authorize", "https://report.example.com/oauth/callback")

	u, err := url.Parse(auth.AuthCodeURL("st-1"))
	require.NoError(t, err)
	assert.Equal(t, "accounts.example.com", u.Host)
	q := u.Query()
	assert.Equal(t, "cli_app", q.Get("client_id"))
	assert.Equal(t, "cli_app", q.Get("app_id"))
	assert.Equal(t, "st-1", q.Get("state"))
	assert.Equal(t, "https://report.example.com/oauth/callback", q.Get("redirect_uri"))
}

func TestBitableClient_SearchRecords(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /open-apis/bitable/v1/apps/bas1/tables/tbl1/records/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer u-1", r.Header.Get("Authorization"))
		assert.Equal(t, "500", r.URL.Query().Get("page_size"))
		assert.Equal(t, "pt-1", r.URL.Query().Get("page_token"))

		body := decodeBody(t, r)
		assert.Equal(t, "vew1", body["view_id"])
		assert.Equal(t, false, body["automatic_fields"])
		filter := body["filter"].(map[string]any)
		assert.Equal(t, "and", filter["conjunction"])

		writeJSON(t, w, map[string]any{"code": 0, "data": map[string]any{
			"items": []map[string]any{
				{"record_id": "rec1", "fields": map[string]any{"Trạng thái mess": "Chốt nóng"}},
			},
			"has_more":   true,
			"page_token": "pt-2",
			"total":      2,
		}})
	})
	b := NewBitableClient(newTestClient(t, mux))

	page, err := b.SearchRecords(context.Background(), "u-1", domain.SearchRequest{
		BaseID: "bas1", TableID: "tbl1", ViewID: "vew1",
		FieldNames: []string{"Trạng thái mess"},
		Filter:     domain.Is("Ngày tạo", "CurrentMonth"),
		PageToken:  "pt-1",
	})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "rec1", page.Items[0].ID)
	assert.Equal(t, "Chốt nóng", page.Items[0].Fields["Trạng thái mess"])
	assert.True(t, page.HasMore)
	assert.Equal(t, "pt-2", page.PageToken)
}

func TestBitableClient_ListTables(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /open-apis/bitable/v1/apps/bas1/tables", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "50", r.URL.Query().Get("page_size"))
		writeJSON(t, w, map[string]any{"code": 0, "data": map[string]any{
			"items":    []map[string]any{{"table_id": "tbl1", "name": "fb_01"}, {"table_id": "tbl2", "name": "Config"}},
			"has_more": false,
		}})
	})
	b := NewBitableClient(newTestClient(t, mux))

	page, err := b.ListTables(context.Background(), "u-1", "bas1", "")
	require.NoError(t, err)
	assert.Equal(t, []domain.Table{{ID: "tbl1", Name: "fb_01"}, {ID: "tbl2", Name: "Config"}}, page.Items)
	assert.False(t, page.HasMore)
}

func TestClient_HTTPErrorWithoutEnvelope(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /open-apis/bitable/v1/apps/bas1/tables", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})
	b := NewBitableClient(newTestClient(t, mux))

	_, err := b.ListTables(context.Background(), "u-1", "bas1", "")

	var gw *domain.GatewayError
	require.ErrorAs(t, err, &gw)
	assert.Equal(t, http.StatusBadGateway, gw.Status)
}

func TestClient_RateLimitHonoursContext(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1", QPS: 0.001}, discardLogger())
	// Drain the single burst token.
	require.True(t, c.limiter.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.call(ctx, "probe", http.MethodGet, "/", nil, "", nil, nil, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait")
}
