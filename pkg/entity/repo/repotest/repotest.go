// Package repotest holds the behaviour every entity.Repository
// implementation must share. Storage packages run it from their own tests.
package repotest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-entity/pkg/entity"
)

// Factory returns an empty repository.
type Factory func(t *testing.T) entity.Repository

// Run exercises the repository contract against fresh repositories.
func Run(t *testing.T, newRepo Factory) {
	t.Run("InfoBlocks", func(t *testing.T) { testInfoBlocks(t, newRepo(t)) })
	t.Run("Properties", func(t *testing.T) { testProperties(t, newRepo(t)) })
	t.Run("Enums", func(t *testing.T) { testEnums(t, newRepo(t)) })
	t.Run("Elements", func(t *testing.T) { testElements(t, newRepo(t)) })
	t.Run("Listing", func(t *testing.T) { testListing(t, newRepo(t)) })
	t.Run("Files", func(t *testing.T) { testFiles(t, newRepo(t)) })
}

func createInfoBlock(t *testing.T, repo entity.Repository, code string) *entity.InfoBlock {
	t.Helper()
	ib := &entity.InfoBlock{Type: "entity", Code: code, Name: code, CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.CreateInfoBlock(context.Background(), ib))
	require.NotZero(t, ib.ID)
	return ib
}

func testInfoBlocks(t *testing.T, repo entity.Repository) {
	ctx := context.Background()

	_, err := repo.FindInfoBlock(ctx, "entity", "books")
	assert.ErrorIs(t, err, entity.ErrInfoBlockNotFound)

	ib := createInfoBlock(t, repo, "books")
	found, err := repo.FindInfoBlock(ctx, "entity", "books")
	require.NoError(t, err)
	assert.Equal(t, ib.ID, found.ID)
	assert.Equal(t, "books", found.Name)

	_, err = repo.FindInfoBlock(ctx, "catalog", "books")
	assert.ErrorIs(t, err, entity.ErrInfoBlockNotFound)

	assert.Error(t, repo.CreateInfoBlock(ctx, &entity.InfoBlock{Type: "entity", Code: "books"}))
}

func testProperties(t *testing.T, repo entity.Repository) {
	ctx := context.Background()
	ib := createInfoBlock(t, repo, "books")

	author := &entity.Property{InfoBlockID: ib.ID, Code: "author", Name: "Author", Type: entity.PropertyTypeString, Sort: 10}
	published := &entity.Property{InfoBlockID: ib.ID, Code: "published_at", Name: "Published", Type: entity.PropertyTypeString, UserType: entity.UserTypeDateTime, Sort: 20}
	require.NoError(t, repo.CreateProperty(ctx, author))
	require.NoError(t, repo.CreateProperty(ctx, published))
	assert.NotZero(t, author.ID)

	props, err := repo.ListProperties(ctx, ib.ID)
	require.NoError(t, err)
	require.Len(t, props, 2)
	assert.Equal(t, "author", props[0].Code)
	assert.Equal(t, entity.UserTypeDateTime, props[1].UserType)

	author.Name = "Writer"
	author.Type = entity.PropertyTypeNumber
	require.NoError(t, repo.UpdateProperty(ctx, author))
	props, err = repo.ListProperties(ctx, ib.ID)
	require.NoError(t, err)
	assert.Equal(t, "Writer", props[0].Name)
	assert.Equal(t, entity.PropertyTypeNumber, props[0].Type)

	assert.Error(t, repo.CreateProperty(ctx, &entity.Property{InfoBlockID: ib.ID, Code: "author", Type: entity.PropertyTypeString}))
}

func testEnums(t *testing.T, repo entity.Repository) {
	ctx := context.Background()
	ib := createInfoBlock(t, repo, "books")
	prop := &entity.Property{InfoBlockID: ib.ID, Code: "is_bestseller", Type: entity.PropertyTypeList, ListType: entity.ListTypeCheckbox}
	require.NoError(t, repo.CreateProperty(ctx, prop))

	enums, err := repo.ListPropertyEnums(ctx, entity.PropertyEnumFilter{PropertyID: prop.ID})
	require.NoError(t, err)
	assert.Empty(t, enums)

	yes := &entity.PropertyEnum{PropertyID: prop.ID, XMLID: "Y", Value: "Y", Sort: 10}
	require.NoError(t, repo.CreatePropertyEnum(ctx, yes))
	assert.NotZero(t, yes.ID)

	enums, err = repo.ListPropertyEnums(ctx, entity.PropertyEnumFilter{PropertyID: prop.ID, XMLID: "Y"})
	require.NoError(t, err)
	require.Len(t, enums, 1)
	assert.Equal(t, yes.ID, enums[0].ID)

	enums, err = repo.ListPropertyEnums(ctx, entity.PropertyEnumFilter{PropertyID: prop.ID, XMLID: "N"})
	require.NoError(t, err)
	assert.Empty(t, enums)
}

func testElements(t *testing.T, repo entity.Repository) {
	ctx := context.Background()
	ib := createInfoBlock(t, repo, "books")

	el := &entity.Element{
		InfoBlockID: ib.ID,
		Name:        "Остров сокровищ",
		Active:      true,
		Properties:  map[string]string{"author": "Р. Л. Стивенсон", "pages_num": "350"},
	}
	require.NoError(t, repo.CreateElement(ctx, el))
	require.NotZero(t, el.ID)

	got, err := repo.GetElement(ctx, el.ID)
	require.NoError(t, err)
	assert.Equal(t, el.Name, got.Name)
	assert.True(t, got.Active)
	assert.Equal(t, el.Properties, got.Properties)
	created := got.UpdatedAt

	time.Sleep(5 * time.Millisecond)
	inactive := false
	require.NoError(t, repo.UpdateElement(ctx, el.ID, entity.ElementUpdate{
		Active:     &inactive,
		Properties: map[string]string{"pages_num": "", "published_at": "1883-06-14 00:00:00"},
	}))

	got, err = repo.GetElement(ctx, el.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, "Остров сокровищ", got.Name)
	assert.Equal(t, map[string]string{"author": "Р. Л. Стивенсон", "published_at": "1883-06-14 00:00:00"}, got.Properties)
	assert.True(t, got.UpdatedAt.After(created), "update must bump the modification time")

	_, err = repo.GetElement(ctx, el.ID+1000)
	assert.ErrorIs(t, err, entity.ErrElementNotFound)
	name := "x"
	assert.ErrorIs(t, repo.UpdateElement(ctx, el.ID+1000, entity.ElementUpdate{Name: &name}), entity.ErrElementNotFound)
}

func drain(t *testing.T, cursor entity.ElementCursor) []string {
	t.Helper()
	var names []string
	for {
		el, err := cursor.Next(context.Background())
		require.NoError(t, err)
		if el == nil {
			break
		}
		names = append(names, el.Name)
	}
	el, err := cursor.Next(context.Background())
	require.NoError(t, err)
	require.Nil(t, el)
	require.NoError(t, cursor.Close())
	return names
}

func testListing(t *testing.T, repo entity.Repository) {
	ctx := context.Background()
	ib := createInfoBlock(t, repo, "books")
	other := createInfoBlock(t, repo, "magazines")
	require.NoError(t, repo.CreateProperty(ctx, &entity.Property{InfoBlockID: ib.ID, Code: "author", Type: entity.PropertyTypeString}))
	require.NoError(t, repo.CreateProperty(ctx, &entity.Property{InfoBlockID: ib.ID, Code: "pages", Type: entity.PropertyTypeNumber}))

	for _, el := range []*entity.Element{
		{InfoBlockID: ib.ID, Name: "Treasure Island", Active: true, Properties: map[string]string{"author": "Robert Louis Stevenson", "pages": "292"}},
		{InfoBlockID: ib.ID, Name: "Dracula", Active: true, Properties: map[string]string{"author": "Bram Stoker", "pages": "418"}},
		{InfoBlockID: ib.ID, Name: "Kidnapped", Active: false, Properties: map[string]string{"author": "R. L. STEVENSON", "pages": "35"}},
		{InfoBlockID: ib.ID, Name: "Остров сокровищ", Active: true, Properties: map[string]string{"author": "Р. Л. Стивенсон"}},
		{InfoBlockID: other.ID, Name: "Strand Magazine", Active: true, Properties: map[string]string{}},
	} {
		require.NoError(t, repo.CreateElement(ctx, el))
	}

	cond := func(key string, op entity.Operator, value string) entity.Condition {
		return entity.Condition{Key: key, Op: op, Value: value}
	}
	byID := []entity.SortField{{Key: entity.FieldID}}

	tests := []struct {
		name     string
		params   entity.ListElementsParams
		expected []string
	}{
		{"all of one info-block", entity.ListElementsParams{Sort: byID}, []string{"Treasure Island", "Dracula", "Kidnapped", "Остров сокровищ"}},
		{"equality", entity.ListElementsParams{Sort: byID, Conditions: []entity.Condition{cond("PROPERTY_author", entity.OpEqual, "Bram Stoker")}}, []string{"Dracula"}},
		{"empty equality matches missing", entity.ListElementsParams{Sort: byID, Conditions: []entity.Condition{cond("PROPERTY_pages", entity.OpEqual, "")}}, []string{"Остров сокровищ"}},
		{"substring ignores case", entity.ListElementsParams{Sort: byID, Conditions: []entity.Condition{cond("PROPERTY_author", entity.OpSubstring, "stevenson")}}, []string{"Treasure Island", "Kidnapped"}},
		{"substring ignores case in cyrillic", entity.ListElementsParams{Sort: byID, Conditions: []entity.Condition{cond("PROPERTY_author", entity.OpSubstring, "стивенсон")}}, []string{"Остров сокровищ"}},
		{"name substring", entity.ListElementsParams{Sort: byID, Conditions: []entity.Condition{cond(entity.FieldName, entity.OpSubstring, "nap")}}, []string{"Kidnapped"}},
		{"active", entity.ListElementsParams{Sort: byID, Conditions: []entity.Condition{cond(entity.FieldActive, entity.OpEqual, entity.ActiveNo)}}, []string{"Kidnapped"}},
		{"combined", entity.ListElementsParams{Sort: byID, Conditions: []entity.Condition{
			cond("PROPERTY_author", entity.OpSubstring, "stevenson"),
			cond(entity.FieldActive, entity.OpEqual, entity.ActiveYes),
		}}, []string{"Treasure Island"}},
		{"numeric ascending", entity.ListElementsParams{Sort: []entity.SortField{{Key: "PROPERTY_pages"}}}, []string{"Остров сокровищ", "Kidnapped", "Treasure Island", "Dracula"}},
		{"numeric descending", entity.ListElementsParams{Sort: []entity.SortField{{Key: "PROPERTY_pages", Desc: true}}}, []string{"Dracula", "Treasure Island", "Kidnapped", "Остров сокровищ"}},
		{"id descending", entity.ListElementsParams{Sort: []entity.SortField{{Key: entity.FieldID, Desc: true}}}, []string{"Остров сокровищ", "Kidnapped", "Dracula", "Treasure Island"}},
		{"active then name", entity.ListElementsParams{Sort: []entity.SortField{{Key: entity.FieldActive}, {Key: entity.FieldName}}}, []string{"Kidnapped", "Dracula", "Treasure Island", "Остров сокровищ"}},
		{"small pages", entity.ListElementsParams{PageSize: 1, Sort: byID}, []string{"Treasure Island", "Dracula", "Kidnapped", "Остров сокровищ"}},
		{"nothing matches", entity.ListElementsParams{Conditions: []entity.Condition{cond(entity.FieldName, entity.OpEqual, "Ulysses")}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := tt.params
			params.InfoBlockID = ib.ID
			cursor, err := repo.ListElements(ctx, params)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, drain(t, cursor))
		})
	}

	t.Run("invalid key", func(t *testing.T) {
		_, err := repo.ListElements(ctx, entity.ListElementsParams{
			InfoBlockID: ib.ID,
			Sort:        []entity.SortField{{Key: "PROPERTY_x'; drop table"}},
		})
		assert.ErrorIs(t, err, entity.ErrUnknownField)
	})

	t.Run("writes while iterating", func(t *testing.T) {
		queue := createInfoBlock(t, repo, "queue")
		for _, name := range []string{"a", "b", "c"} {
			require.NoError(t, repo.CreateElement(ctx, &entity.Element{
				InfoBlockID: queue.ID, Name: name, Properties: map[string]string{"state": "pending"},
			}))
		}

		cursor, err := repo.ListElements(ctx, entity.ListElementsParams{
			InfoBlockID: queue.ID,
			PageSize:    1,
			Conditions:  []entity.Condition{cond("PROPERTY_state", entity.OpEqual, "pending")},
			Sort:        byID,
		})
		require.NoError(t, err)

		var visited []string
		for {
			el, err := cursor.Next(ctx)
			require.NoError(t, err)
			if el == nil {
				break
			}
			visited = append(visited, el.Name)
			require.NoError(t, repo.UpdateElement(ctx, el.ID, entity.ElementUpdate{
				Properties: map[string]string{"state": "done"},
			}))
			if el.Name == "a" {
				require.NoError(t, repo.CreateElement(ctx, &entity.Element{
					InfoBlockID: queue.ID, Name: "late", Properties: map[string]string{"state": "pending"},
				}))
			}
		}
		require.NoError(t, cursor.Close())
		assert.Equal(t, []string{"a", "b", "c"}, visited)
	})
}

func testFiles(t *testing.T, repo entity.Repository) {
	ctx := context.Background()

	f := &entity.File{
		Backend:           "memory",
		ObjectKey:         "files/objects/ab/cdef_cover.jpg",
		FileName:          "cover.jpg",
		ContentType:       "image/jpeg",
		Size:              1024,
		Checksum:          "abc",
		ChecksumAlgorithm: "blake3",
		CreatedAt:         time.Now().UTC(),
	}
	require.NoError(t, repo.CreateFile(ctx, f))
	require.NotZero(t, f.ID)

	got, err := repo.GetFile(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, f.ObjectKey, got.ObjectKey)
	assert.Equal(t, f.Size, got.Size)
	assert.Equal(t, f.Checksum, got.Checksum)

	_, err = repo.GetFile(ctx, f.ID+1000)
	assert.ErrorIs(t, err, entity.ErrFileNotFound)
}
