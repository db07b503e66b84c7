package domain

// CursorParams drive keyset pagination over post feeds: pages are fetched
// newest-first and the next page starts strictly below the smallest id of
// the previous one.
type CursorParams struct {
	Cursor int64 `json:"cursor" query:"cursor"`
	Limit  int   `json:"limit" query:"limit"`
}

type CursorPage[T any] struct {
	Data       []T   `json:"data"`
	NextCursor int64 `json:"next_cursor"`
	HasMore    bool  `json:"has_more"`
}

func DefaultCursorParams() CursorParams {
	return CursorParams{Limit: 10}
}

func (p *CursorParams) Validate() {
	if p.Limit < 1 {
		p.Limit = 10
	}
	if p.Limit > 50 {
		p.Limit = 50
	}
	if p.Cursor < 0 {
		p.Cursor = 0
	}
}

func NewCursorPage[T any](data []T, nextCursor int64, hasMore bool) CursorPage[T] {
	return CursorPage[T]{
		Data:       data,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}
}
