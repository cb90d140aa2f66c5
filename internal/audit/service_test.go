package audit

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psicare/psicare/internal/platform/httpx"
)

type stubRepo struct {
	rows []TimelineRow
	last WindowParams
	err  error
}

func (s *stubRepo) Window(_ context.Context, arg WindowParams) ([]TimelineRow, error) {
	s.last = arg
	if s.err != nil {
		return nil, s.err
	}
	end := len(s.rows)
	if arg.Limit > 0 && int(arg.Offset)+int(arg.Limit) < end {
		end = int(arg.Offset) + int(arg.Limit)
	}
	if int(arg.Offset) >= len(s.rows) {
		return nil, nil
	}
	return s.rows[arg.Offset:end], nil
}

func sampleRows(n int) []TimelineRow {
	base := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	out := make([]TimelineRow, n)
	for i := range out {
		out[i] = TimelineRow{At: base.Add(-time.Duration(i) * time.Hour), ActorID: 1, Action: "roles.update", Entity: "role", EntityID: "2"}
	}
	return out
}

func TestTimelinePaging(t *testing.T) {
	repo := &stubRepo{rows: sampleRows(3)}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 2)
	assert.True(t, result.Paging.HasNext)
	assert.Equal(t, 2, result.Paging.NextPage)
	assert.Equal(t, int32(3), repo.last.Limit)
	assert.Equal(t, int32(0), repo.last.Offset)

	result, err = svc.Timeline(context.Background(), TimelineFilters{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, result.Rows, 1)
	assert.False(t, result.Paging.HasNext)
	assert.Equal(t, 1, result.Paging.PrevPage)
	assert.Equal(t, int32(2), repo.last.Offset)
}

func TestTimelineClampsPageSize(t *testing.T) {
	repo := &stubRepo{}
	result, err := NewService(repo).Timeline(context.Background(), TimelineFilters{PageSize: 500})
	require.NoError(t, err)
	assert.Equal(t, maxPageSize, result.Paging.PageSize)
	assert.Equal(t, int32(maxPageSize+1), repo.last.Limit)
	assert.NotNil(t, result.Rows)
}

func TestTimelineFiltersBecomeQueryParams(t *testing.T) {
	repo := &stubRepo{}
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err := NewService(repo).Timeline(context.Background(), TimelineFilters{
		From:    from,
		ActorID: 7,
		Entity:  " role ",
	})
	require.NoError(t, err)
	assert.Equal(t, pgtype.Timestamptz{Time: from, Valid: true}, repo.last.From)
	assert.False(t, repo.last.To.Valid)
	assert.Equal(t, pgtype.Int8{Int64: 7, Valid: true}, repo.last.Actor)
	assert.Equal(t, pgtype.Text{String: "role", Valid: true}, repo.last.Entity)
	assert.Equal(t, pgtype.Text{}, repo.last.Action)
}

func TestTimelineRejectsInvertedRange(t *testing.T) {
	_, err := NewService(&stubRepo{}).Timeline(context.Background(), TimelineFilters{
		From: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.ErrorIs(t, err, httpx.ErrValidation)
}

func TestTimelineRejectsOffsetOverflow(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo)

	_, err := svc.Timeline(context.Background(), TimelineFilters{Page: 9999999999, PageSize: 20})
	assert.ErrorIs(t, err, httpx.ErrValidation)
	assert.Equal(t, WindowParams{}, repo.last)

	_, err = svc.Timeline(context.Background(), TimelineFilters{Page: math.MaxInt32/20 + 2, PageSize: 20})
	assert.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.Timeline(context.Background(), TimelineFilters{Page: math.MaxInt32/20 + 1, PageSize: 20})
	require.NoError(t, err)
	assert.Equal(t, int32(math.MaxInt32/20*20), repo.last.Offset)
	assert.GreaterOrEqual(t, repo.last.Offset, int32(0))
}

func TestExportUsesCap(t *testing.T) {
	repo := &stubRepo{rows: sampleRows(4)}
	rows, err := NewService(repo).Export(context.Background(), TimelineFilters{})
	require.NoError(t, err)
	assert.Len(t, rows, 4)
	assert.Equal(t, int32(ExportLimit), repo.last.Limit)
}

func TestServiceWithoutRepository(t *testing.T) {
	_, err := NewService(nil).Timeline(context.Background(), TimelineFilters{})
	assert.Error(t, err)
}
