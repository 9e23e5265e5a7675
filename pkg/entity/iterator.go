package entity

import (
	"context"
	"fmt"
	"iter"
)

// Iterator is a single-pass pull cursor over the results of a Select.
// Once exhausted, Next keeps returning nil, nil.
type Iterator[T any] struct {
	sel *Select[T]
	ctx context.Context

	iblock *InfoBlock
	cursor ElementCursor
	done   bool
}

// Next returns the next entity. A row that cannot be decoded yields an
// error; the cursor has moved past it, so iteration may continue. Any
// other failure ends the iteration.
func (it *Iterator[T]) Next() (*T, error) {
	if it.done {
		return nil, nil
	}
	if it.sel.err != nil {
		it.done = true
		return nil, it.sel.err
	}
	if it.cursor == nil {
		if err := it.open(); err != nil {
			it.done = true
			return nil, err
		}
	}

	el, err := it.cursor.Next(it.ctx)
	if err != nil {
		it.Close()
		return nil, fmt.Errorf("select %s: %w", it.sel.typeName(), err)
	}
	if el == nil {
		it.Close()
		return nil, nil
	}

	ptr, err := it.sel.m.load(it.ctx, it.sel.em, it.iblock, el)
	if err != nil {
		return nil, err
	}
	return ptr.Interface().(*T), nil
}

func (it *Iterator[T]) open() error {
	iblock, err := it.sel.m.InfoBlockOf(it.ctx, it.sel.em)
	if err != nil {
		return fmt.Errorf("select %s: %w", it.sel.typeName(), err)
	}
	params, err := it.sel.params(it.ctx, iblock)
	if err != nil {
		return err
	}
	cursor, err := it.sel.m.repository.ListElements(it.ctx, params)
	if err != nil {
		return fmt.Errorf("select %s: %w", it.sel.typeName(), err)
	}
	it.iblock = iblock
	it.cursor = cursor
	return nil
}

// Close releases the storage cursor. Further calls to Next return nil, nil.
func (it *Iterator[T]) Close() error {
	it.done = true
	if it.cursor == nil {
		return nil
	}
	err := it.cursor.Close()
	it.cursor = nil
	return err
}

// All adapts the iterator to a range-over-func sequence.
func (it *Iterator[T]) All() iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		defer it.Close()
		for {
			v, err := it.Next()
			if err == nil && v == nil {
				return
			}
			if !yield(v, err) {
				return
			}
		}
	}
}
