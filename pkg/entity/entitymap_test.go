package entity_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-entity/pkg/entity"
)

type Категория struct {
	ID int64 `entity:",pk"`
}

type Shelf struct {
	ID    int64  `entity:"ID,pk"`
	Label string `entity:"NAME,name"`
}

func (Shelf) InfoBlock() entity.InfoBlockSpec {
	return entity.InfoBlockSpec{Type: "library", Code: "shelves_v2"}
}

func TestMapOf_Book(t *testing.T) {
	em, err := entity.MapOf[Book]()
	require.NoError(t, err)

	assert.Equal(t, entity.InfoBlockSpec{Type: "entity", Code: "books", Name: "Book"}, em.InfoBlock)
	assert.True(t, em.Tracked())
	assert.Equal(t, "ID", em.PrimaryKey.Code)
	assert.Equal(t, "Title", em.Name.Name)
	assert.Equal(t, "IsShow", em.Active.Name)

	props := em.Properties()
	require.Len(t, props, 5)
	kinds := map[string]entity.Kind{}
	for _, p := range props {
		kinds[p.Code] = p.Kind
	}
	assert.Equal(t, map[string]entity.Kind{
		"author":        entity.KindString,
		"pages_num":     entity.KindInteger,
		"published_at":  entity.KindDateTime,
		"is_bestseller": entity.KindBoolean,
		"cover":         entity.KindFile,
	}, kinds)

	author, ok := em.Field("author")
	require.True(t, ok)
	assert.Equal(t, "Автор", author.Label)
	assert.Equal(t, "PROPERTY_author", author.Key())
}

func TestMapOf_IsCached(t *testing.T) {
	first, err := entity.MapOf[Book]()
	require.NoError(t, err)
	second, err := entity.MapOf[*Book]()
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestEntityMap_FieldLookup(t *testing.T) {
	em, err := entity.MapOf[Book]()
	require.NoError(t, err)

	for _, name := range []string{"pagesNum", "PagesNum", "pages_num", "PAGESNUM"} {
		f, ok := em.Field(name)
		require.True(t, ok, name)
		assert.Equal(t, "PagesNum", f.Name)
	}
	f, ok := em.Field("id")
	require.True(t, ok)
	assert.Equal(t, entity.RolePrimaryKey, f.Role)

	_, ok = em.Field("missing")
	assert.False(t, ok)
}

func TestMapOf_InfoBlockOverride(t *testing.T) {
	em, err := entity.MapOf[Shelf]()
	require.NoError(t, err)
	assert.Equal(t, entity.InfoBlockSpec{Type: "library", Code: "shelves_v2", Name: "Shelf"}, em.InfoBlock)
	assert.False(t, em.Tracked())
}

func TestMapOf_TransliteratedCode(t *testing.T) {
	em, err := entity.MapOf[Категория]()
	require.NoError(t, err)
	assert.Equal(t, "kategoriyas", em.InfoBlock.Code)
}

func TestMapOf_Errors(t *testing.T) {
	type noPK struct {
		Name string `entity:"NAME,name"`
	}
	type twoPK struct {
		A int64 `entity:"ID,pk"`
		B int64 `entity:"ID2,pk"`
	}
	type dupCode struct {
		ID int64  `entity:"ID,pk"`
		A  string `entity:"code"`
		B  string `entity:"CODE"`
	}
	type floatField struct {
		ID    int64   `entity:"ID,pk"`
		Price float64 `entity:"price"`
	}
	type untypedAny struct {
		ID   int64 `entity:"ID,pk"`
		When any   `entity:"when"`
	}
	type badKind struct {
		ID   int64  `entity:"ID,pk"`
		When string `entity:"when,type=datetime"`
	}
	type stringPK struct {
		ID string `entity:"ID,pk"`
	}
	type narrowPK struct {
		ID int8 `entity:"ID,pk"`
	}

	tests := []struct {
		name string
		fn   func() error
		want error
	}{
		{"no primary key", func() error { _, err := entity.MapOf[noPK](); return err }, entity.ErrNoPrimaryKey},
		{"two primary keys", func() error { _, err := entity.MapOf[twoPK](); return err }, entity.ErrDuplicateRole},
		{"duplicate code", func() error { _, err := entity.MapOf[dupCode](); return err }, entity.ErrDuplicateCode},
		{"unsupported type", func() error { _, err := entity.MapOf[floatField](); return err }, entity.ErrUnknownType},
		{"any without type", func() error { _, err := entity.MapOf[untypedAny](); return err }, entity.ErrUnknownType},
		{"incompatible type option", func() error { _, err := entity.MapOf[badKind](); return err }, entity.ErrUnknownType},
		{"string primary key", func() error { _, err := entity.MapOf[stringPK](); return err }, entity.ErrUnknownType},
		{"narrow primary key", func() error { _, err := entity.MapOf[narrowPK](); return err }, entity.ErrUnknownType},
		{"not a struct", func() error { _, err := entity.MapOf[int](); return err }, entity.ErrNotStruct},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			var mappingErr *entity.MappingError
			assert.True(t, errors.As(err, &mappingErr))
		})
	}
}

func TestMapOf_ExplicitAnyKind(t *testing.T) {
	type event struct {
		ID   int64 `entity:"ID,pk"`
		When any   `entity:"when,type=datetime"`
	}
	em, err := entity.MapOf[event]()
	require.NoError(t, err)
	f, ok := em.Field("when")
	require.True(t, ok)
	assert.Equal(t, entity.KindDateTime, f.Kind)
}

func TestNaming(t *testing.T) {
	assert.Equal(t, "pages_num", entity.DefaultCode("PagesNum"))
	assert.Equal(t, "books", entity.InfoBlockCode("Book"))
	assert.Equal(t, "categories", entity.InfoBlockCode("Category"))
	assert.Equal(t, "boxes", entity.InfoBlockCode("Box"))
	assert.Equal(t, "library_items", entity.InfoBlockCode("LibraryItem"))
}
