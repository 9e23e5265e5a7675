package entity

import "context"

// IDsFunc resolves the ordered ids of every element in a listing.
type IDsFunc func(ctx context.Context) ([]int64, error)

// LoadFunc loads the elements with the given ids in any order. Ids that no
// longer exist are left out.
type LoadFunc func(ctx context.Context, ids []int64) ([]*Element, error)

// PagedCursor is an ElementCursor whose membership and order are fixed by
// the first call to Next. Elements are then loaded one page at a time, so
// writes made while iterating never shift or hide later rows.
type PagedCursor struct {
	resolve  IDsFunc
	load     LoadFunc
	pageSize int

	ids      []int64
	resolved bool
	page     []*Element
	pos      int
	closed   bool
}

// NewPagedCursor returns a cursor that resolves its ids through resolve and
// loads them in pages of pageSize through load.
func NewPagedCursor(pageSize int, resolve IDsFunc, load LoadFunc) *PagedCursor {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &PagedCursor{resolve: resolve, load: load, pageSize: pageSize}
}

// Next returns the next element, or nil once the listing is exhausted.
func (c *PagedCursor) Next(ctx context.Context) (*Element, error) {
	if c.closed {
		return nil, nil
	}
	if !c.resolved {
		ids, err := c.resolve(ctx)
		if err != nil {
			return nil, err
		}
		c.ids, c.resolved = ids, true
	}
	for c.pos == len(c.page) {
		if len(c.ids) == 0 {
			return nil, nil
		}
		batch := c.ids[:min(c.pageSize, len(c.ids))]
		loaded, err := c.load(ctx, batch)
		if err != nil {
			return nil, err
		}
		c.ids = c.ids[len(batch):]
		c.page, c.pos = inOrder(batch, loaded), 0
	}
	el := c.page[c.pos]
	c.page[c.pos] = nil
	c.pos++
	return el, nil
}

// Close ends the listing.
func (c *PagedCursor) Close() error {
	c.closed = true
	c.ids = nil
	c.page = nil
	return nil
}

func inOrder(ids []int64, loaded []*Element) []*Element {
	byID := make(map[int64]*Element, len(loaded))
	for _, el := range loaded {
		byID[el.ID] = el
	}
	page := make([]*Element, 0, len(ids))
	for _, id := range ids {
		if el, ok := byID[id]; ok {
			page = append(page, el)
		}
	}
	return page
}
