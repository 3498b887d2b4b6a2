package records

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bitable-report/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingCreds struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingCreds) EnsureValid(context.Context, *domain.Session) (*domain.Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &domain.Credential{AccessToken: "tok"}, nil
}

// pagedData serves record pages keyed by the incoming page token.
type pagedData struct {
	mu     sync.Mutex
	pages  map[string]*domain.RecordPage
	tables map[string]*domain.TablePage
	tokens []string
}

func (d *pagedData) SearchRecords(_ context.Context, _ string, req domain.SearchRequest) (*domain.RecordPage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens = append(d.tokens, req.PageToken)
	p, ok := d.pages[req.PageToken]
	if !ok {
		return nil, errors.New("unknown page token")
	}
	return p, nil
}

func (d *pagedData) ListTables(_ context.Context, _, _, token string) (*domain.TablePage, error) {
	p, ok := d.tables[token]
	if !ok {
		return nil, errors.New("unknown page token")
	}
	return p, nil
}

func rec(id string) domain.Record { return domain.Record{ID: id} }

func TestScanner_Scan(t *testing.T) {
	t.Run("follows_page_tokens", func(t *testing.T) {
		data := &pagedData{pages: map[string]*domain.RecordPage{
			"":   {Items: []domain.Record{rec("a"), rec("b")}, HasMore: true, PageToken: "p2"},
			"p2": {Items: []domain.Record{rec("c")}, HasMore: true, PageToken: "p3"},
			"p3": {Items: []domain.Record{rec("d")}},
		}}
		creds := &countingCreds{}
		s := NewScanner(data, creds, discardLogger())

		got, err := s.All(context.Background(), &domain.Session{}, domain.SearchRequest{BaseID: "b", TableID: "t"})
		require.NoError(t, err)

		ids := make([]string, len(got))
		for i, r := range got {
			ids[i] = r.ID
		}
		assert.Equal(t, []string{"a", "b", "c", "d"}, ids)
		assert.Equal(t, []string{"", "p2", "p3"}, data.tokens)
		assert.Equal(t, 3, creds.calls, "credential checked before every page")
	})

	t.Run("has_more_without_token_stops", func(t *testing.T) {
		data := &pagedData{pages: map[string]*domain.RecordPage{
			"": {Items: []domain.Record{rec("a")}, HasMore: true},
		}}
		s := NewScanner(data, &countingCreds{}, discardLogger())

		got, err := s.All(context.Background(), &domain.Session{}, domain.SearchRequest{})
		require.NoError(t, err)
		assert.Len(t, got, 1)
		assert.Len(t, data.tokens, 1)
	})

	t.Run("repeated_token_stops", func(t *testing.T) {
		data := &pagedData{pages: map[string]*domain.RecordPage{
			"":   {Items: []domain.Record{rec("a")}, HasMore: true, PageToken: "p2"},
			"p2": {Items: []domain.Record{rec("b")}, HasMore: true, PageToken: "p2"},
		}}
		s := NewScanner(data, &countingCreds{}, discardLogger())

		got, err := s.All(context.Background(), &domain.Session{}, domain.SearchRequest{})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("credential_error_propagates", func(t *testing.T) {
		creds := &countingCreds{err: &domain.NoCredentialError{SessionID: "s"}}
		s := NewScanner(&pagedData{}, creds, discardLogger())

		_, err := s.All(context.Background(), &domain.Session{}, domain.SearchRequest{})
		var noCred *domain.NoCredentialError
		require.ErrorAs(t, err, &noCred)
	})

	t.Run("first_stops_after_one_record", func(t *testing.T) {
		data := &pagedData{pages: map[string]*domain.RecordPage{
			"": {Items: []domain.Record{rec("a"), rec("b")}, HasMore: true, PageToken: "p2"},
		}}
		s := NewScanner(data, &countingCreds{}, discardLogger())

		r, ok, err := s.First(context.Background(), &domain.Session{}, domain.SearchRequest{})
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "a", r.ID)
		assert.Len(t, data.tokens, 1)
	})
}

func TestScanner_ListTables(t *testing.T) {
	data := &pagedData{tables: map[string]*domain.TablePage{
		"":   {Items: []domain.Table{{ID: "t1", Name: "fb_01"}}, HasMore: true, PageToken: "n"},
		"n":  {Items: []domain.Table{{ID: "t2", Name: "zalo_02"}}, HasMore: true, PageToken: "n"},
		"nn": {},
	}}
	s := NewScanner(data, &countingCreds{}, discardLogger())

	tables, err := s.ListTables(context.Background(), &domain.Session{}, "base")
	require.NoError(t, err)
	assert.Equal(t, []domain.Table{{ID: "t1", Name: "fb_01"}, {ID: "t2", Name: "zalo_02"}}, tables)
}

func TestText(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{name: "nil", in: nil, want: ""},
		{name: "string", in: "Chốt nóng", want: "Chốt nóng"},
		{name: "number", in: float64(1717200000000), want: "1717200000000"},
		{name: "option object", in: map[string]any{"name": "Nhu cầu", "id": "opt1"}, want: "Nhu cầu"},
		{name: "text object", in: map[string]any{"text": "hello", "type": "text"}, want: "hello"},
		{name: "formula value", in: map[string]any{"type": 1, "value": []any{map[string]any{"text": "Rác"}}}, want: "Rác"},
		{name: "list joins non-blank parts", in: []any{"a", " ", map[string]any{"text": "b"}}, want: "a, b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Text(tt.in))
		})
	}
}

func TestFirstText(t *testing.T) {
	assert.Equal(t, "0901", FirstText([]any{map[string]any{"text": "0901"}, map[string]any{"text": "0902"}}))
	assert.Equal(t, "", FirstText([]any{}))
	assert.Equal(t, "x", FirstText("x"))
}

func TestLinkedRecordIDs(t *testing.T) {
	assert.Equal(t, []string{"rec1", "rec2"}, LinkedRecordIDs(map[string]any{
		"link_record_ids": []any{"rec1", "rec2", 3},
	}))
	assert.Equal(t, []string{"rec9"}, LinkedRecordIDs([]any{
		map[string]any{"record_ids": []any{"rec9"}, "text": "Nguyễn Văn A"},
	}))
	assert.Empty(t, LinkedRecordIDs("rec1"))
}

func TestFormatDate(t *testing.T) {
	loc := time.FixedZone("ICT", 7*3600)
	ms := time.Date(2026, 3, 14, 23, 30, 0, 0, time.UTC).UnixMilli()

	assert.Equal(t, "15/03/2026", FormatDate(float64(ms), loc))
	assert.Equal(t, "02/01/2026", FormatDate("2026-01-02", loc))
	assert.Equal(t, "02/01/2026", FormatDate("2026/01/02 08:00:00", loc))
	assert.Equal(t, "-", FormatDate(nil, loc))
	assert.Equal(t, "next week", FormatDate("next week", loc))
}

func TestCredentialGuard(t *testing.T) {
	var g CredentialGuard
	require.NoError(t, g.Err())

	plain := errors.New("gateway down")
	assert.Equal(t, plain, g.Observe(plain))
	require.NoError(t, g.Err(), "non-credential errors are not recorded")

	first := fmt.Errorf("search b/t: %w", domain.ErrRefreshFailed("rejected", plain))
	assert.Equal(t, first, g.Observe(first))
	g.Observe(&domain.NoCredentialError{SessionID: "s"})

	var refresh *domain.RefreshFailedError
	require.ErrorAs(t, g.Err(), &refresh)
	assert.True(t, IsCredentialError(&domain.NoCredentialError{}))
	assert.False(t, IsCredentialError(plain))
}
