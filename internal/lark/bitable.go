package lark

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"bitable-report/internal/domain"
)

const (
	defaultRecordPageSize = 500
	tablePageSize         = 50
)

var _ domain.DataGateway = (*BitableClient)(nil)

// BitableClient reads Bitable tables and records with a user access token.
type BitableClient struct {
	*Client
}

// NewBitableClient creates a BitableClient.
func NewBitableClient(c *Client) *BitableClient {
	return &BitableClient{Client: c}
}

type searchBody struct {
	ViewID          string         `json:"view_id,omitempty"`
	FieldNames      []string       `json:"field_names,omitempty"`
	Filter          *domain.Filter `json:"filter,omitempty"`
	AutomaticFields bool           `json:"automatic_fields"`
}

type searchData struct {
	Items     []domain.Record `json:"items"`
	HasMore   bool            `json:"has_more"`
	PageToken string          `json:"page_token"`
	Total     int             `json:"total"`
}

// SearchRecords fetches one page of records matching req.
func (b *BitableClient) SearchRecords(ctx context.Context, accessToken string, req domain.SearchRequest) (*domain.RecordPage, error) {
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = defaultRecordPageSize
	}
	q := url.Values{}
	q.Set("page_size", strconv.Itoa(pageSize))
	if req.PageToken != "" {
		q.Set("page_token", req.PageToken)
	}

	path := "/open-apis/bitable/v1/apps/" + url.PathEscape(req.BaseID) +
		"/tables/" + url.PathEscape(req.TableID) + "/records/search"
	body := searchBody{ViewID: req.ViewID, FieldNames: req.FieldNames, Filter: req.Filter}

	var data searchData
	if err := b.call(ctx, "search records", http.MethodPost, path, q, accessToken, body, &data, false); err != nil {
		return nil, err
	}
	return &domain.RecordPage{Items: data.Items, HasMore: data.HasMore, PageToken: data.PageToken, Total: data.Total}, nil
}

type tableData struct {
	Items []struct {
		TableID string `json:"table_id"`
		Name    string `json:"name"`
	} `json:"items"`
	HasMore   bool   `json:"has_more"`
	PageToken string `json:"page_token"`
}

// ListTables fetches one page of the tables of a base.
func (b *BitableClient) ListTables(ctx context.Context, accessToken, baseID, pageToken string) (*domain.TablePage, error) {
	q := url.Values{}
	q.Set("page_size", strconv.Itoa(tablePageSize))
	if pageToken != "" {
		q.Set("page_token", pageToken)
	}

	var data tableData
	path := "/open-apis/bitable/v1/apps/" + url.PathEscape(baseID) + "/tables"
	if err := b.call(ctx, "list tables", http.MethodGet, path, q, accessToken, nil, &data, false); err != nil {
		return nil, err
	}

	page := &domain.TablePage{HasMore: data.HasMore, PageToken: data.PageToken}
	for _, it := range data.Items {
		page.Items = append(page.Items, domain.Table{ID: it.TableID, Name: it.Name})
	}
	return page, nil
}
