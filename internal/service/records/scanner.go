// Package records pages through workspace tables with a session's
// credential and flattens the platform's cell values.
package records

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"bitable-report/internal/domain"
)

// ErrStop may be returned by a visit func to end a scan early without error.
var ErrStop = errors.New("stop scan")

// CredentialSource yields a credential that is valid right now.
type CredentialSource interface {
	EnsureValid(ctx context.Context, sess *domain.Session) (*domain.Credential, error)
}

// Scanner pages through search results. It asks the CredentialSource for a
// valid credential before every page, so long scans survive token rotation.
type Scanner struct {
	data   domain.DataGateway
	creds  CredentialSource
	logger *slog.Logger
}

// NewScanner creates a Scanner.
func NewScanner(data domain.DataGateway, creds CredentialSource, logger *slog.Logger) *Scanner {
	return &Scanner{data: data, creds: creds, logger: logger}
}

// Scan calls visit for every record matching req, following page tokens
// while the platform reports more pages. A "has more" page without a token
// ends the scan.
func (s *Scanner) Scan(ctx context.Context, sess *domain.Session, req domain.SearchRequest, visit func(domain.Record) error) error {
	req.PageToken = ""
	seen := make(map[string]struct{})

	for {
		cred, err := s.creds.EnsureValid(ctx, sess)
		if err != nil {
			return err
		}
		page, err := s.data.SearchRecords(ctx, cred.AccessToken, req)
		if err != nil {
			return fmt.Errorf("search %s/%s: %w", req.BaseID, req.TableID, err)
		}
		for _, rec := range page.Items {
			if err := visit(rec); err != nil {
				if errors.Is(err, ErrStop) {
					return nil
				}
				return err
			}
		}

		if !page.HasMore {
			return nil
		}
		if page.PageToken == "" {
			s.logger.Warn("more pages reported without a page token; stopping", "base", req.BaseID, "table", req.TableID)
			return nil
		}
		if _, dup := seen[page.PageToken]; dup {
			s.logger.Warn("page token repeated; stopping", "base", req.BaseID, "table", req.TableID)
			return nil
		}
		seen[page.PageToken] = struct{}{}
		req.PageToken = page.PageToken
	}
}

// All collects every record matching req.
func (s *Scanner) All(ctx context.Context, sess *domain.Session, req domain.SearchRequest) ([]domain.Record, error) {
	var out []domain.Record
	err := s.Scan(ctx, sess, req, func(r domain.Record) error {
		out = append(out, r)
		return nil
	})
	return out, err
}

// First returns the first record matching req.
func (s *Scanner) First(ctx context.Context, sess *domain.Session, req domain.SearchRequest) (*domain.Record, bool, error) {
	var found *domain.Record
	err := s.Scan(ctx, sess, req, func(r domain.Record) error {
		found = &r
		return ErrStop
	})
	if err != nil {
		return nil, false, err
	}
	return found, found != nil, nil
}

// ListTables returns every table of a base.
func (s *Scanner) ListTables(ctx context.Context, sess *domain.Session, baseID string) ([]domain.Table, error) {
	var (
		out   []domain.Table
		token string
	)
	for {
		cred, err := s.creds.EnsureValid(ctx, sess)
		if err != nil {
			return nil, err
		}
		page, err := s.data.ListTables(ctx, cred.AccessToken, baseID, token)
		if err != nil {
			return nil, fmt.Errorf("list tables of %s: %w", baseID, err)
		}
		out = append(out, page.Items...)

		if !page.HasMore {
			return out, nil
		}
		if page.PageToken == "" || page.PageToken == token {
			s.logger.Warn("table listing reported more pages without a new token; stopping", "base", baseID)
			return out, nil
		}
		token = page.PageToken
	}
}
