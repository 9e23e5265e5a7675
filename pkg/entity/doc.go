// Package entity maps annotated Go structs onto a content platform's
// structured storage and back.
//
// The platform stores elements inside info-blocks. Every element has an
// identity, a display name, an active flag and a set of independently stored,
// single-valued properties. A struct describes its mapping through `entity`
// struct tags:
//
//	type Book struct {
//		entity.Tracked
//		ID        int64      `entity:"ID,pk"`
//		Title     string     `entity:"NAME,name"`
//		IsShow    bool       `entity:"ACTIVE,active"`
//		Author    string     `entity:"author" label:"Автор"`
//		PagesNum  int        `entity:"pages_num" label:"Кол-во страниц"`
//		Published *time.Time `entity:"published_at" label:"Опубликована"`
//	}
//
// The Mapper ties the pieces together: SchemaBuilder creates the info-block
// and its property definitions, Save performs a minimal create or update, and
// From builds a lazily evaluated Select over stored elements.
//
// Storage access goes through the Repository interface. Implementations for
// memory, PostgreSQL and SQLite live under repo/, blob stores used for file
// properties live under storage/.
//
// # Dirty checking
//
// Structs that embed Tracked carry the last persisted encoded field mapping.
// Saving an element whose encoded mapping equals that snapshot issues no
// storage write at all; otherwise only the changed properties are sent.
package entity
