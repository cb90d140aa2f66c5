package audit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/psicare/psicare/internal/platform/httpx"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
	// ExportLimit caps a CSV export.
	ExportLimit = 5000
)

// Service pages through the audit trail.
type Service struct {
	repo Repository
}

// NewService builds the audit timeline service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of changes, newest first.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, errors.New("audit: repository not configured")
	}
	if err := filters.validate(); err != nil {
		return Result{}, err
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	// OFFSET is a 32-bit parameter
	if int64(page-1) > math.MaxInt32/int64(pageSize) {
		return Result{}, fmt.Errorf("%w: page %d is out of range", httpx.ErrValidation, page)
	}
	params := filters.params()
	params.Offset = int32((page - 1) * pageSize)
	params.Limit = int32(pageSize + 1)

	rows, err := s.repo.Window(ctx, params)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	if rows == nil {
		rows = []TimelineRow{}
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export returns every matching row up to ExportLimit.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	if s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	if err := filters.validate(); err != nil {
		return nil, err
	}
	params := filters.params()
	params.Limit = ExportLimit
	return s.repo.Window(ctx, params)
}

func (f TimelineFilters) validate() error {
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return fmt.Errorf("%w: from must not be after to", httpx.ErrValidation)
	}
	return nil
}

func (f TimelineFilters) params() WindowParams {
	p := WindowParams{
		From:   toPgTime(f.From),
		To:     toPgTime(f.To),
		Entity: optionalText(f.Entity),
		Action: optionalText(f.Action),
	}
	if f.ActorID > 0 {
		p.Actor = pgtype.Int8{Int64: f.ActorID, Valid: true}
	}
	return p
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}
