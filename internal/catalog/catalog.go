// Package catalog holds the entities served by the bundled binaries.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tendant/simple-entity/pkg/entity"
	"github.com/tendant/simple-entity/pkg/entity/api"
)

// Book is a catalog entry.
type Book struct {
	entity.Tracked
	ID           int64          `entity:"ID,pk" json:"id"`
	Title        string         `entity:"NAME,name" label:"Title" json:"title"`
	IsShow       bool           `entity:"ACTIVE,active" json:"is_show"`
	Author       string         `entity:"author" label:"Author" json:"author"`
	PagesNum     int            `entity:"pages_num" label:"Pages" json:"pages_num"`
	PublishedAt  *time.Time     `entity:"published_at" label:"Published" json:"published_at,omitempty"`
	IsBestseller bool           `entity:"is_bestseller" label:"Bestseller" json:"is_bestseller"`
	Cover        entity.FileRef `entity:"cover" label:"Cover" json:"cover,omitempty"`
}

func (Book) InfoBlock() entity.InfoBlockSpec {
	return entity.InfoBlockSpec{Type: "catalog", Name: "Books"}
}

// Author describes a writer.
type Author struct {
	entity.Tracked
	ID        int64  `entity:"ID,pk" json:"id"`
	Name      string `entity:"NAME,name" json:"name"`
	Country   string `entity:"country" label:"Country" json:"country"`
	BornYear  int    `entity:"born_year" label:"Year of birth" json:"born_year"`
	Biography string `entity:"biography" label:"Biography" json:"biography,omitempty"`
}

func (Author) InfoBlock() entity.InfoBlockSpec {
	return entity.InfoBlockSpec{Type: "catalog", Name: "Authors"}
}

// BuildSchema creates or updates the info-blocks of every catalog entity.
func BuildSchema(ctx context.Context, m *entity.Mapper) error {
	if _, err := entity.BuildSchema[Book](ctx, m); err != nil {
		return fmt.Errorf("book schema: %w", err)
	}
	if _, err := entity.BuildSchema[Author](ctx, m); err != nil {
		return fmt.Errorf("author schema: %w", err)
	}
	return nil
}

// Routes mounts the catalog endpoints on r.
func Routes(r chi.Router, m *entity.Mapper, logger *slog.Logger) {
	api.Mount[Book](r, "/books", m, logger)
	api.Mount[Author](r, "/authors", m, logger)
	r.Mount("/files", api.NewFilesHandler(m, logger).Routes())
}
