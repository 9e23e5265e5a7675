package entity_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-entity/pkg/entity"
)

func seedBooks(t *testing.T, m *entity.Mapper) {
	t.Helper()
	saveBooks(t, m,
		&Book{Title: "Treasure Island", IsShow: true, Author: "Robert Louis Stevenson", PagesNum: 292, IsBestseller: true},
		&Book{Title: "Dracula", IsShow: true, Author: "Bram Stoker", PagesNum: 418},
		&Book{Title: "Kidnapped", IsShow: false, Author: "R. L. STEVENSON", PagesNum: 35, IsBestseller: true},
		&Book{Title: "The Lair of the White Worm", IsShow: true, Author: "Bram Stoker", PagesNum: 228},
	)
}

func TestSelect_SubstringFilter(t *testing.T) {
	m, _ := newBookMapper(t)
	seedBooks(t, m)
	ctx := context.Background()

	books, err := entity.From[Book](m).Where("author", "%", "stevenson").OrderBy("id", "asc").FetchAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Treasure Island", "Kidnapped"}, titles(books))

	books, err = entity.From[Book](m).Where("author", "%", "Stoker").OrderBy("id", "asc").FetchAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Dracula", "The Lair of the White Worm"}, titles(books))
}

func TestSelect_EqualityFilters(t *testing.T) {
	m, _ := newBookMapper(t)
	seedBooks(t, m)
	ctx := context.Background()

	tests := []struct {
		name     string
		sel      *entity.Select[Book]
		expected []string
	}{
		{"no clause returns inactive too", entity.From[Book](m), []string{"Treasure Island", "Dracula", "Kidnapped", "The Lair of the White Worm"}},
		{"integer", entity.From[Book](m).Where("pagesNum", 418), []string{"Dracula"}},
		{"integer as string", entity.From[Book](m).Where("pagesNum", "35"), []string{"Kidnapped"}},
		{"name field", entity.From[Book](m).Where("title", "Dracula"), []string{"Dracula"}},
		{"active flag", entity.From[Book](m).Where("isShow", false), []string{"Kidnapped"}},
		{"boolean true", entity.From[Book](m).Where("isBestseller", true), []string{"Treasure Island", "Kidnapped"}},
		{"boolean false", entity.From[Book](m).Where("isBestseller", false), []string{"Dracula", "The Lair of the White Worm"}},
		{"combined", entity.From[Book](m).Where("author", "%", "stoker").Where("pagesNum", "=", 228), []string{"The Lair of the White Worm"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			books, err := tt.sel.OrderBy("ID", "ASC").FetchAll(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, titles(books))
		})
	}
}

func TestSelect_Ordering(t *testing.T) {
	m, _ := newBookMapper(t)
	seedBooks(t, m)
	ctx := context.Background()

	keys := map[string]func(b *Book) int64{
		"pagesNum": func(b *Book) int64 { return int64(b.PagesNum) },
		"id":       func(b *Book) int64 { return b.ID },
		"isBestseller": func(b *Book) int64 {
			if b.IsBestseller {
				return 1
			}
			return 0
		},
		"isShow": func(b *Book) int64 {
			if b.IsShow {
				return 1
			}
			return 0
		},
	}

	for field, key := range keys {
		for _, dir := range []string{"asc", "desc"} {
			t.Run(field+"/"+dir, func(t *testing.T) {
				books, err := entity.From[Book](m).OrderBy(field, dir).FetchAll(ctx)
				require.NoError(t, err)
				require.Len(t, books, 4)
				for i := 1; i < len(books); i++ {
					prev, next := key(books[i-1]), key(books[i])
					if dir == "asc" {
						assert.LessOrEqual(t, prev, next)
					} else {
						assert.GreaterOrEqual(t, prev, next)
					}
				}
			})
		}
	}
}

func TestSelect_FetchExhaustion(t *testing.T) {
	m, _ := newBookMapper(t)
	seedBooks(t, m)
	ctx := context.Background()

	sel := entity.From[Book](m).Where("author", "%", "stoker").OrderBy("id", "asc")
	first, err := sel.Fetch(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "Dracula", first.Title)

	second, err := sel.Fetch(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "The Lair of the White Worm", second.Title)

	for i := 0; i < 3; i++ {
		book, err := sel.Fetch(ctx)
		assert.NoError(t, err)
		assert.Nil(t, book)
	}
}

func TestSelect_FetchAllEmpty(t *testing.T) {
	m, _ := newBookMapper(t)
	seedBooks(t, m)

	books, err := entity.From[Book](m).Where("author", "%", "Tolkien").FetchAll(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, books)
	assert.Empty(t, books)
}

func TestSelect_IsLazyAndPaged(t *testing.T) {
	m, _ := newMapper(t, entity.WithPageSize(2))
	_, err := entity.BuildSchema[Book](context.Background(), m)
	require.NoError(t, err)
	seedBooks(t, m)
	ctx := context.Background()

	it := entity.From[Book](m).OrderBy("pagesNum", "desc").Iterator(ctx)
	var pages []int
	for {
		book, err := it.Next()
		require.NoError(t, err)
		if book == nil {
			break
		}
		pages = append(pages, book.PagesNum)
	}
	assert.Equal(t, []int{418, 292, 228, 35}, pages)

	book, err := it.Next()
	assert.NoError(t, err)
	assert.Nil(t, book)
}

func TestSelect_SaveWhileFetching(t *testing.T) {
	m, _ := newMapper(t, entity.WithPageSize(1))
	ctx := context.Background()
	_, err := entity.BuildSchema[Book](ctx, m)
	require.NoError(t, err)
	saveBooks(t, m,
		&Book{Title: "a", IsShow: true},
		&Book{Title: "b", IsShow: true},
		&Book{Title: "c", IsShow: true},
	)

	sel := entity.From[Book](m).Where("isBestseller", false).OrderBy("id", "asc")
	var visited []string
	for {
		book, err := sel.Fetch(ctx)
		require.NoError(t, err)
		if book == nil {
			break
		}
		visited = append(visited, book.Title)
		book.IsBestseller = true
		_, err = entity.Save(ctx, m, book)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b", "c"}, visited)

	rest, err := entity.From[Book](m).Where("isBestseller", false).FetchAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, rest)
}

func TestSelect_All(t *testing.T) {
	m, _ := newBookMapper(t)
	seedBooks(t, m)

	var got []string
	for book, err := range entity.From[Book](m).Where("isShow", true).OrderBy("title", "desc").All(context.Background()) {
		require.NoError(t, err)
		got = append(got, book.Title)
	}
	assert.Equal(t, []string{"Treasure Island", "The Lair of the White Worm", "Dracula"}, got)
}

func TestSelect_ImmutableDescriptors(t *testing.T) {
	m, _ := newBookMapper(t)
	seedBooks(t, m)
	ctx := context.Background()

	base := entity.From[Book](m)
	narrowed := base.Where("author", "%", "stoker")

	all, err := base.FetchAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	some, err := narrowed.FetchAll(ctx)
	require.NoError(t, err)
	assert.Len(t, some, 2)
}

func TestSelect_QueryErrors(t *testing.T) {
	m, _ := newBookMapper(t)
	ctx := context.Background()

	tests := []struct {
		name string
		sel  *entity.Select[Book]
		want error
	}{
		{"unknown field", entity.From[Book](m).Where("publisher", "x"), entity.ErrUnknownField},
		{"unknown operator", entity.From[Book](m).Where("author", ">", "x"), entity.ErrUnknownOperator},
		{"unknown order field", entity.From[Book](m).OrderBy("publisher", "asc"), entity.ErrUnknownField},
		{"bad direction", entity.From[Book](m).OrderBy("title", "sideways"), entity.ErrInvalidDirection},
		{"error sticks to later clauses", entity.From[Book](m).Where("nope", 1).OrderBy("title", "asc"), entity.ErrUnknownField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var queryErr *entity.QueryError
			require.ErrorAs(t, tt.sel.Err(), &queryErr)
			assert.ErrorIs(t, tt.sel.Err(), tt.want)

			_, err := tt.sel.FetchAll(ctx)
			assert.ErrorIs(t, err, tt.want)
			_, err = tt.sel.Fetch(ctx)
			assert.ErrorIs(t, err, tt.want)
			_, err = tt.sel.Iterator(ctx).Next()
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("value of wrong kind", func(t *testing.T) {
		sel := entity.From[Book](m).Where("pagesNum", "many")
		var mismatch *entity.TypeMismatchError
		assert.ErrorAs(t, sel.Err(), &mismatch)
	})
}

func TestSelect_DecodeFailureIsPerRow(t *testing.T) {
	m, repo := newBookMapper(t)
	seedBooks(t, m)
	ctx := context.Background()

	broken, err := entity.From[Book](m).Where("title", "Dracula").Fetch(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.Repository.UpdateElement(ctx, broken.ID, entity.ElementUpdate{
		Properties: map[string]string{"pages_num": "many"},
	}))

	it := entity.From[Book](m).OrderBy("id", "asc").Iterator(ctx)
	var got []string
	failures := 0
	for {
		book, err := it.Next()
		if err != nil {
			var mismatch *entity.TypeMismatchError
			require.ErrorAs(t, err, &mismatch)
			failures++
			continue
		}
		if book == nil {
			break
		}
		got = append(got, book.Title)
	}
	assert.Equal(t, 1, failures)
	assert.Equal(t, []string{"Treasure Island", "Kidnapped", "The Lair of the White Worm"}, got)

	_, err = entity.From[Book](m).FetchAll(ctx)
	assert.Error(t, err)
}

func TestSelect_SchemaNotBuilt(t *testing.T) {
	m, _ := newMapper(t)
	_, err := entity.From[Book](m).FetchAll(context.Background())
	assert.ErrorIs(t, err, entity.ErrInfoBlockNotFound)
}

func TestSelect_MappingError(t *testing.T) {
	type broken struct {
		Name string `entity:"NAME,name"`
	}
	m, _ := newMapper(t)
	_, err := entity.From[broken](m).Where("name", "x").FetchAll(context.Background())
	assert.ErrorIs(t, err, entity.ErrNoPrimaryKey)
}
