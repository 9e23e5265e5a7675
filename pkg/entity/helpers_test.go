package entity_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-entity/pkg/entity"
	"github.com/tendant/simple-entity/pkg/entity/repo/memory"
)

type Book struct {
	entity.Tracked
	ID           int64          `entity:"ID,pk"`
	Title        string         `entity:"NAME,name"`
	IsShow       bool           `entity:"ACTIVE,active"`
	Author       string         `entity:"author" label:"Автор"`
	PagesNum     int            `entity:"pages_num" label:"Кол-во страниц"`
	PublishedAt  *time.Time     `entity:"published_at" label:"Опубликована"`
	IsBestseller bool           `entity:"is_bestseller" label:"Бестселлер"`
	Cover        entity.FileRef `entity:"cover"`
}

// Note has no Tracked field, so every update writes all fields.
type Note struct {
	ID   int64  `entity:"ID,pk"`
	Text string `entity:"NAME,name"`
	Tag  string `entity:"tag"`
}

// spyRepository counts element writes on top of the memory repository.
// A non-nil updateErr makes every UpdateElement fail with it.
type spyRepository struct {
	*memory.Repository
	creates   atomic.Int32
	updates   atomic.Int32
	last      entity.ElementUpdate
	updateErr error
}

func (s *spyRepository) CreateElement(ctx context.Context, el *entity.Element) error {
	s.creates.Add(1)
	return s.Repository.CreateElement(ctx, el)
}

func (s *spyRepository) UpdateElement(ctx context.Context, id int64, update entity.ElementUpdate) error {
	s.updates.Add(1)
	s.last = update
	if s.updateErr != nil {
		return s.updateErr
	}
	return s.Repository.UpdateElement(ctx, id, update)
}

func newMapper(t *testing.T, options ...entity.Option) (*entity.Mapper, *spyRepository) {
	t.Helper()
	repo := &spyRepository{Repository: memory.New()}
	m, err := entity.New(append([]entity.Option{entity.WithRepository(repo)}, options...)...)
	require.NoError(t, err)
	return m, repo
}

func newBookMapper(t *testing.T) (*entity.Mapper, *spyRepository) {
	t.Helper()
	m, repo := newMapper(t)
	_, err := entity.BuildSchema[Book](context.Background(), m)
	require.NoError(t, err)
	return m, repo
}

func saveBooks(t *testing.T, m *entity.Mapper, books ...*Book) {
	t.Helper()
	for _, b := range books {
		_, err := entity.Save(context.Background(), m, b)
		require.NoError(t, err)
	}
}

func titles(books []*Book) []string {
	out := make([]string, 0, len(books))
	for _, b := range books {
		out = append(out, b.Title)
	}
	return out
}
