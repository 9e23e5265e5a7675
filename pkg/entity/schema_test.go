package entity_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-entity/pkg/entity"
)

func TestBuildSchema(t *testing.T) {
	m, repo := newMapper(t)
	ctx := context.Background()

	built, err := entity.BuildSchema[Book](ctx, m)
	require.NoError(t, err)
	assert.True(t, built)

	iblock, err := repo.FindInfoBlock(ctx, "entity", "books")
	require.NoError(t, err)
	assert.Equal(t, "Book", iblock.Name)

	props, err := repo.ListProperties(ctx, iblock.ID)
	require.NoError(t, err)
	byCode := map[string]*entity.Property{}
	for _, p := range props {
		byCode[p.Code] = p
	}
	require.Len(t, byCode, 5)

	assert.Equal(t, entity.PropertyTypeString, byCode["author"].Type)
	assert.Equal(t, "Автор", byCode["author"].Name)
	assert.Equal(t, entity.PropertyTypeNumber, byCode["pages_num"].Type)
	assert.Equal(t, entity.PropertyTypeString, byCode["published_at"].Type)
	assert.Equal(t, entity.UserTypeDateTime, byCode["published_at"].UserType)
	assert.Equal(t, entity.PropertyTypeString, byCode["cover"].Type)
	assert.Equal(t, entity.PropertyTypeList, byCode["is_bestseller"].Type)
	assert.Equal(t, entity.ListTypeCheckbox, byCode["is_bestseller"].ListType)

	enums, err := repo.ListPropertyEnums(ctx, entity.PropertyEnumFilter{PropertyID: byCode["is_bestseller"].ID})
	require.NoError(t, err)
	require.Len(t, enums, 1)
	assert.Equal(t, "Y", enums[0].XMLID)
	assert.Equal(t, "Y", enums[0].Value)
}

// schemaEvents records schema change notifications.
type schemaEvents struct {
	entity.NoopEventSink
	ops []string
}

func (s *schemaEvents) SchemaChanged(ctx context.Context, iblock *entity.InfoBlock, property *entity.Property, op string) error {
	s.ops = append(s.ops, op)
	return nil
}

func TestBuildSchema_Idempotent(t *testing.T) {
	events := &schemaEvents{}
	m, repo := newMapper(t, entity.WithEventSink(events))
	ctx := context.Background()

	_, err := entity.BuildSchema[Book](ctx, m)
	require.NoError(t, err)
	iblock, err := repo.FindInfoBlock(ctx, "entity", "books")
	require.NoError(t, err)
	before, err := repo.ListProperties(ctx, iblock.ID)
	require.NoError(t, err)
	enumsBefore, err := repo.ListPropertyEnums(ctx, entity.PropertyEnumFilter{})
	require.NoError(t, err)

	creates := len(events.ops)
	rebuilt, err := entity.BuildSchema[Book](ctx, m)
	require.NoError(t, err)
	assert.True(t, rebuilt)
	assert.Len(t, events.ops, creates)

	after, err := repo.ListProperties(ctx, iblock.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	enumsAfter, err := repo.ListPropertyEnums(ctx, entity.PropertyEnumFilter{})
	require.NoError(t, err)
	assert.Equal(t, enumsBefore, enumsAfter)
}

func TestBuildSchema_UpdatesDifferingProperty(t *testing.T) {
	m, repo := newMapper(t)
	ctx := context.Background()

	_, err := entity.BuildSchema[Book](ctx, m)
	require.NoError(t, err)
	iblock, err := repo.FindInfoBlock(ctx, "entity", "books")
	require.NoError(t, err)
	props, err := repo.ListProperties(ctx, iblock.ID)
	require.NoError(t, err)

	var pages *entity.Property
	for _, p := range props {
		if p.Code == "pages_num" {
			pages = p
		}
	}
	require.NotNil(t, pages)
	pages.Type = entity.PropertyTypeString
	pages.Name = "stale"
	pages.Multiple = true
	require.NoError(t, repo.UpdateProperty(ctx, pages))

	built, err := entity.BuildSchema[Book](ctx, m)
	require.NoError(t, err)
	assert.True(t, built)

	props, err = repo.ListProperties(ctx, iblock.ID)
	require.NoError(t, err)
	assert.Len(t, props, 5)
	for _, p := range props {
		if p.Code == "pages_num" {
			assert.Equal(t, pages.ID, p.ID)
			assert.Equal(t, entity.PropertyTypeNumber, p.Type)
			assert.Equal(t, "Кол-во страниц", p.Name)
			assert.False(t, p.Multiple)
		}
	}
}

func TestBuildSchema_ResetsMultipleProperty(t *testing.T) {
	events := &schemaEvents{}
	m, repo := newMapper(t, entity.WithEventSink(events))
	ctx := context.Background()

	_, err := entity.BuildSchema[Book](ctx, m)
	require.NoError(t, err)
	iblock, err := repo.FindInfoBlock(ctx, "entity", "books")
	require.NoError(t, err)
	props, err := repo.ListProperties(ctx, iblock.ID)
	require.NoError(t, err)

	author := props[0]
	require.Equal(t, "author", author.Code)
	author.Multiple = true
	require.NoError(t, repo.UpdateProperty(ctx, author))

	events.ops = nil
	_, err = entity.BuildSchema[Book](ctx, m)
	require.NoError(t, err)
	assert.Equal(t, []string{entity.SchemaOpUpdateProperty}, events.ops)

	props, err = repo.ListProperties(ctx, iblock.ID)
	require.NoError(t, err)
	assert.False(t, props[0].Multiple)
}

// failingRepository rejects property creation after the first success.
type failingRepository struct {
	*spyRepository
	allowed int
}

func (f *failingRepository) CreateProperty(ctx context.Context, p *entity.Property) error {
	if f.allowed == 0 {
		return errors.New("storage unavailable")
	}
	f.allowed--
	return f.spyRepository.CreateProperty(ctx, p)
}

func TestBuildSchema_PartialFailure(t *testing.T) {
	_, spy := newMapper(t)
	repo := &failingRepository{spyRepository: spy, allowed: 1}
	m, err := entity.New(entity.WithRepository(repo))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = entity.BuildSchema[Book](ctx, m)
	var schemaErr *entity.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "books", schemaErr.InfoBlock)
	assert.Equal(t, entity.SchemaOpCreateProperty, schemaErr.Op)

	iblock, err := repo.FindInfoBlock(ctx, "entity", "books")
	require.NoError(t, err)
	props, err := repo.ListProperties(ctx, iblock.ID)
	require.NoError(t, err)
	assert.Len(t, props, 1)

	repo.allowed = 100
	built, err := entity.BuildSchema[Book](ctx, m)
	require.NoError(t, err)
	assert.True(t, built)
	props, err = repo.ListProperties(ctx, iblock.ID)
	require.NoError(t, err)
	assert.Len(t, props, 5)
}
