package audit

import (
	"context"
	"time"
)

// TimelineFilters narrows the timeline query.
type TimelineFilters struct {
	SubjectRef string
	ActorID    int64
	Action     ActionType
	From       time.Time
	To         time.Time
	Page       int
	PageSize   int
}

// PagingInfo carries window metadata for timeline pages.
type PagingInfo struct {
	Page     int
	PageSize int
	HasNext  bool
	PrevPage int
	NextPage int
}

// Result wraps timeline rows with paging information.
type Result struct {
	Rows   []Entry
	Paging PagingInfo
}

// Timeline returns a page of audit entries for external reporting. The
// trail is read-only here; nothing in this path can mutate entries.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	window := filters
	window.Page = page
	window.PageSize = pageSize

	rows, err := s.repo.Timeline(ctx, window)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
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
