package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tendant/simple-entity/pkg/entity"
)

//go:embed schema.sql
var schemaSQL string

const driverName = "sqlite"

// timestamps are stored as sortable UTC text
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Repository implements entity.Repository on an SQLite database
type Repository struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for a private in-memory database.
func Open(ctx context.Context, path string) (*Repository, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// one connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	r := New(db)
	if err := r.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// New wraps an open database. Call Migrate before first use.
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates the tables the repository needs if they do not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate sqlite schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (r *Repository) Close() error {
	return r.db.Close()
}

func now() string {
	return formatTime(time.Now())
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func timeOrNow(t time.Time) string {
	if t.IsZero() {
		return now()
	}
	return formatTime(t)
}

// Info-block operations

func (r *Repository) FindInfoBlock(ctx context.Context, iblockType, code string) (*entity.InfoBlock, error) {
	query := `SELECT id, iblock_type, code, name, created_at FROM iblock WHERE iblock_type = ? AND code = ?`

	var ib entity.InfoBlock
	var created string
	err := r.db.QueryRowContext(ctx, query, iblockType, code).Scan(&ib.ID, &ib.Type, &ib.Code, &ib.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrInfoBlockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find info-block: %w", err)
	}
	ib.CreatedAt = parseTime(created)
	return &ib, nil
}

func (r *Repository) CreateInfoBlock(ctx context.Context, iblock *entity.InfoBlock) error {
	created := timeOrNow(iblock.CreatedAt)
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO iblock (iblock_type, code, name, created_at) VALUES (?, ?, ?, ?)`,
		iblock.Type, iblock.Code, iblock.Name, created)
	if err != nil {
		return fmt.Errorf("create info-block: %w", err)
	}
	if iblock.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("create info-block: %w", err)
	}
	iblock.CreatedAt = parseTime(created)
	return nil
}

// Property definition operations

func (r *Repository) ListProperties(ctx context.Context, iblockID int64) ([]*entity.Property, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, iblock_id, code, name, property_type, user_type, list_type, multiple, sort
		FROM iblock_property WHERE iblock_id = ? ORDER BY sort, id`, iblockID)
	if err != nil {
		return nil, fmt.Errorf("list properties: %w", err)
	}
	defer rows.Close()

	var result []*entity.Property
	for rows.Next() {
		var p entity.Property
		var typ string
		if err := rows.Scan(&p.ID, &p.InfoBlockID, &p.Code, &p.Name, &typ, &p.UserType, &p.ListType, &p.Multiple, &p.Sort); err != nil {
			return nil, fmt.Errorf("list properties: %w", err)
		}
		p.Type = entity.PropertyType(typ)
		result = append(result, &p)
	}
	return result, rows.Err()
}

func (r *Repository) CreateProperty(ctx context.Context, p *entity.Property) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO iblock_property (iblock_id, code, name, property_type, user_type, list_type, multiple, sort)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.InfoBlockID, p.Code, p.Name, string(p.Type), p.UserType, p.ListType, p.Multiple, p.Sort)
	if err != nil {
		return fmt.Errorf("create property %s: %w", p.Code, err)
	}
	p.ID, err = res.LastInsertId()
	return err
}

func (r *Repository) UpdateProperty(ctx context.Context, p *entity.Property) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE iblock_property SET name = ?, property_type = ?, user_type = ?, list_type = ?, multiple = ?, sort = ?
		WHERE id = ?`,
		p.Name, string(p.Type), p.UserType, p.ListType, p.Multiple, p.Sort, p.ID)
	if err != nil {
		return fmt.Errorf("update property %s: %w", p.Code, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("property %d not found", p.ID)
	}
	return nil
}

// Enum option operations

func (r *Repository) ListPropertyEnums(ctx context.Context, filter entity.PropertyEnumFilter) ([]*entity.PropertyEnum, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, property_id, xml_id, value, def, sort FROM iblock_property_enum
		WHERE (? = 0 OR property_id = ?) AND (? = '' OR xml_id = ?) AND (? = '' OR value = ?)
		ORDER BY id`,
		filter.PropertyID, filter.PropertyID, filter.XMLID, filter.XMLID, filter.Value, filter.Value)
	if err != nil {
		return nil, fmt.Errorf("list enums: %w", err)
	}
	defer rows.Close()

	var result []*entity.PropertyEnum
	for rows.Next() {
		var e entity.PropertyEnum
		if err := rows.Scan(&e.ID, &e.PropertyID, &e.XMLID, &e.Value, &e.Default, &e.Sort); err != nil {
			return nil, fmt.Errorf("list enums: %w", err)
		}
		result = append(result, &e)
	}
	return result, rows.Err()
}

func (r *Repository) CreatePropertyEnum(ctx context.Context, e *entity.PropertyEnum) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO iblock_property_enum (property_id, xml_id, value, def, sort) VALUES (?, ?, ?, ?, ?)`,
		e.PropertyID, e.XMLID, e.Value, e.Default, e.Sort)
	if err != nil {
		return fmt.Errorf("create enum: %w", err)
	}
	e.ID, err = res.LastInsertId()
	return err
}

// Element operations

const elementColumns = `id, iblock_id, name, active, properties, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanElement(row scanner) (*entity.Element, error) {
	var el entity.Element
	var props, created, updated string
	if err := row.Scan(&el.ID, &el.InfoBlockID, &el.Name, &el.Active, &props, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(props), &el.Properties); err != nil {
		return nil, fmt.Errorf("element %d: corrupt properties: %w", el.ID, err)
	}
	if el.Properties == nil {
		el.Properties = make(map[string]string)
	}
	el.CreatedAt = parseTime(created)
	el.UpdatedAt = parseTime(updated)
	return &el, nil
}

// encodeProperties returns the stored and the case-folded JSON forms.
func encodeProperties(props map[string]string) (string, string, error) {
	clean := make(map[string]string, len(props))
	folded := make(map[string]string, len(props))
	for k, v := range props {
		if v == "" {
			continue
		}
		clean[k] = v
		folded[k] = strings.ToLower(v)
	}
	raw, err := json.Marshal(clean)
	if err != nil {
		return "", "", err
	}
	rawFold, err := json.Marshal(folded)
	if err != nil {
		return "", "", err
	}
	return string(raw), string(rawFold), nil
}

func (r *Repository) CreateElement(ctx context.Context, el *entity.Element) error {
	props, fold, err := encodeProperties(el.Properties)
	if err != nil {
		return fmt.Errorf("create element: %w", err)
	}
	ts := now()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO iblock_element (iblock_id, name, name_fold, active, properties, properties_fold, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		el.InfoBlockID, el.Name, strings.ToLower(el.Name), el.Active, props, fold, ts, ts)
	if err != nil {
		return fmt.Errorf("create element: %w", err)
	}
	if el.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("create element: %w", err)
	}
	el.CreatedAt = parseTime(ts)
	el.UpdatedAt = el.CreatedAt
	return nil
}

// UpdateElement merges the update into the stored element inside one transaction.
func (r *Repository) UpdateElement(ctx context.Context, id int64, update entity.ElementUpdate) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update element: %w", err)
	}
	defer tx.Rollback()

	el, err := scanElement(tx.QueryRowContext(ctx, `SELECT `+elementColumns+` FROM iblock_element WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return entity.ErrElementNotFound
	}
	if err != nil {
		return fmt.Errorf("update element: %w", err)
	}

	if update.Name != nil {
		el.Name = *update.Name
	}
	if update.Active != nil {
		el.Active = *update.Active
	}
	for code, v := range update.Properties {
		el.Properties[code] = v
	}
	props, fold, err := encodeProperties(el.Properties)
	if err != nil {
		return fmt.Errorf("update element: %w", err)
	}

	updated := now()
	if updated <= formatTime(el.UpdatedAt) {
		updated = formatTime(el.UpdatedAt.Add(time.Nanosecond))
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE iblock_element SET name = ?, name_fold = ?, active = ?, properties = ?, properties_fold = ?, updated_at = ?
		WHERE id = ?`,
		el.Name, strings.ToLower(el.Name), el.Active, props, fold, updated, id)
	if err != nil {
		return fmt.Errorf("update element: %w", err)
	}
	return tx.Commit()
}

func (r *Repository) GetElement(ctx context.Context, id int64) (*entity.Element, error) {
	el, err := scanElement(r.db.QueryRowContext(ctx, `SELECT `+elementColumns+` FROM iblock_element WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrElementNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get element: %w", err)
	}
	return el, nil
}

// ListElements returns a cursor over the listing. The matching ids are
// resolved by the first Next and loaded in pages of params.PageSize rows.
func (r *Repository) ListElements(ctx context.Context, params entity.ListElementsParams) (entity.ElementCursor, error) {
	numeric := make(map[string]bool)
	if len(params.Sort) > 0 {
		props, err := r.ListProperties(ctx, params.InfoBlockID)
		if err != nil {
			return nil, err
		}
		for _, p := range props {
			numeric[p.Code] = p.Type == entity.PropertyTypeNumber
		}
	}

	q := &listQuery{}
	if err := q.build(params, numeric); err != nil {
		return nil, err
	}

	resolve := func(ctx context.Context) ([]int64, error) {
		rows, err := r.db.QueryContext(ctx, q.ids(), q.args...)
		if err != nil {
			return nil, fmt.Errorf("list elements: %w", err)
		}
		defer rows.Close()

		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return nil, fmt.Errorf("list elements: %w", err)
			}
			ids = append(ids, id)
		}
		return ids, rows.Err()
	}
	return entity.NewPagedCursor(params.PageSize, resolve, r.loadElements), nil
}

func (r *Repository) loadElements(ctx context.Context, ids []int64) ([]*entity.Element, error) {
	marks := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		marks[i], args[i] = "?", id
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+elementColumns+` FROM iblock_element WHERE id IN (`+strings.Join(marks, ", ")+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("load elements: %w", err)
	}
	defer rows.Close()

	var page []*entity.Element
	for rows.Next() {
		el, err := scanElement(rows)
		if err != nil {
			return nil, fmt.Errorf("load elements: %w", err)
		}
		page = append(page, el)
	}
	return page, rows.Err()
}

type listQuery struct {
	where []string
	order []string
	args  []any
}

func (q *listQuery) arg(v any) string {
	q.args = append(q.args, v)
	return "?"
}

func jsonPath(code string) string {
	return `$."` + code + `"`
}

func (q *listQuery) expr(column, code string, fold bool) string {
	switch column {
	case entity.FieldID:
		return "CAST(id AS TEXT)"
	case entity.FieldName:
		if fold {
			return "name_fold"
		}
		return "name"
	case entity.FieldActive:
		return "CASE WHEN active THEN 'Y' ELSE 'N' END"
	}
	source := "properties"
	if fold {
		source = "properties_fold"
	}
	return "COALESCE(json_extract(" + source + ", " + q.arg(jsonPath(code)) + "), '')"
}

func (q *listQuery) build(params entity.ListElementsParams, numeric map[string]bool) error {
	q.where = append(q.where, "iblock_id = "+q.arg(params.InfoBlockID))

	for _, c := range params.Conditions {
		column, code, err := entity.ResolveKey(c.Key)
		if err != nil {
			return err
		}
		switch c.Op {
		case entity.OpEqual:
			if column == entity.FieldID {
				id, err := strconv.ParseInt(c.Value, 10, 64)
				if err != nil {
					q.where = append(q.where, "0")
					continue
				}
				q.where = append(q.where, "id = "+q.arg(id))
				continue
			}
			q.where = append(q.where, q.expr(column, code, false)+" = "+q.arg(c.Value))
		case entity.OpSubstring:
			q.where = append(q.where, "instr("+q.expr(column, code, true)+", "+q.arg(strings.ToLower(c.Value))+") > 0")
		default:
			return fmt.Errorf("%w: %q", entity.ErrUnknownOperator, c.Op)
		}
	}

	for _, s := range params.Sort {
		column, code, err := entity.ResolveKey(s.Key)
		if err != nil {
			return err
		}
		dir := " ASC NULLS FIRST"
		if s.Desc {
			dir = " DESC NULLS LAST"
		}
		switch {
		case column == entity.FieldID:
			q.order = append(q.order, "id"+dir)
		case code != "" && numeric[code]:
			q.order = append(q.order, "CAST(NULLIF(json_extract(properties, "+q.arg(jsonPath(code))+"), '') AS INTEGER)"+dir)
		default:
			q.order = append(q.order, q.expr(column, code, false)+dir)
		}
	}
	q.order = append(q.order, "id ASC")
	return nil
}

func (q *listQuery) ids() string {
	return `SELECT id FROM iblock_element WHERE ` + strings.Join(q.where, " AND ") +
		` ORDER BY ` + strings.Join(q.order, ", ")
}

// File registry operations

func (r *Repository) CreateFile(ctx context.Context, f *entity.File) error {
	created := timeOrNow(f.CreatedAt)
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO stored_file (backend, object_key, file_name, content_type, size, checksum, checksum_algorithm, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.Backend, f.ObjectKey, f.FileName, f.ContentType, f.Size, f.Checksum, f.ChecksumAlgorithm, created)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if f.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	f.CreatedAt = parseTime(created)
	return nil
}

func (r *Repository) GetFile(ctx context.Context, id int64) (*entity.File, error) {
	var f entity.File
	var created string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, backend, object_key, file_name, content_type, size, checksum, checksum_algorithm, created_at
		FROM stored_file WHERE id = ?`, id).Scan(&f.ID, &f.Backend, &f.ObjectKey, &f.FileName, &f.ContentType,
		&f.Size, &f.Checksum, &f.ChecksumAlgorithm, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	f.CreatedAt = parseTime(created)
	return &f, nil
}
