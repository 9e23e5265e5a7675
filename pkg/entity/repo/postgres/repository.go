package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/simple-entity/pkg/entity"
)

//go:embed schema.sql
var schemaSQL string

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements entity.Repository using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Migrate creates the tables the repository needs if they do not exist.
func Migrate(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return handlePostgresError("migrate", err)
	}
	return nil
}

func handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: duplicate entry (%s)", operation, pgErr.ConstraintName)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s: referenced record not found (%s)", operation, pgErr.ConstraintName)
		case "23502": // not_null_violation
			return fmt.Errorf("%s: required field %s is missing", operation, pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("%s: table does not exist - database migration required", operation)
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

// Info-block operations

func (r *Repository) FindInfoBlock(ctx context.Context, iblockType, code string) (*entity.InfoBlock, error) {
	query := `
		SELECT id, iblock_type, code, name, created_at
		FROM iblock WHERE iblock_type = $1 AND code = $2`

	var ib entity.InfoBlock
	err := r.db.QueryRow(ctx, query, iblockType, code).Scan(&ib.ID, &ib.Type, &ib.Code, &ib.Name, &ib.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entity.ErrInfoBlockNotFound
	}
	if err != nil {
		return nil, handlePostgresError("find info-block", err)
	}
	return &ib, nil
}

func (r *Repository) CreateInfoBlock(ctx context.Context, iblock *entity.InfoBlock) error {
	query := `
		INSERT INTO iblock (iblock_type, code, name, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query, iblock.Type, iblock.Code, iblock.Name, nullTime(iblock.CreatedAt)).
		Scan(&iblock.ID, &iblock.CreatedAt)
	if err != nil {
		return handlePostgresError("create info-block", err)
	}
	return nil
}

// Property definition operations

func (r *Repository) ListProperties(ctx context.Context, iblockID int64) ([]*entity.Property, error) {
	query := `
		SELECT id, iblock_id, code, name, property_type, user_type, list_type, multiple, sort
		FROM iblock_property WHERE iblock_id = $1
		ORDER BY sort, id`

	rows, err := r.db.Query(ctx, query, iblockID)
	if err != nil {
		return nil, handlePostgresError("list properties", err)
	}
	defer rows.Close()

	var result []*entity.Property
	for rows.Next() {
		var p entity.Property
		if err := rows.Scan(&p.ID, &p.InfoBlockID, &p.Code, &p.Name, &p.Type, &p.UserType, &p.ListType, &p.Multiple, &p.Sort); err != nil {
			return nil, handlePostgresError("list properties", err)
		}
		result = append(result, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, handlePostgresError("list properties", err)
	}
	return result, nil
}

func (r *Repository) CreateProperty(ctx context.Context, p *entity.Property) error {
	query := `
		INSERT INTO iblock_property (iblock_id, code, name, property_type, user_type, list_type, multiple, sort)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	err := r.db.QueryRow(ctx, query, p.InfoBlockID, p.Code, p.Name, string(p.Type), p.UserType, p.ListType, p.Multiple, p.Sort).Scan(&p.ID)
	if err != nil {
		return handlePostgresError("create property", err)
	}
	return nil
}

func (r *Repository) UpdateProperty(ctx context.Context, p *entity.Property) error {
	query := `
		UPDATE iblock_property SET
			name = $2, property_type = $3, user_type = $4, list_type = $5, multiple = $6, sort = $7
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, p.ID, p.Name, string(p.Type), p.UserType, p.ListType, p.Multiple, p.Sort)
	if err != nil {
		return handlePostgresError("update property", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("property %d not found", p.ID)
	}
	return nil
}

// Enum option operations

func (r *Repository) ListPropertyEnums(ctx context.Context, filter entity.PropertyEnumFilter) ([]*entity.PropertyEnum, error) {
	query := `
		SELECT id, property_id, xml_id, value, def, sort
		FROM iblock_property_enum
		WHERE ($1::bigint = 0 OR property_id = $1::bigint)
		  AND ($2::text = '' OR xml_id = $2::text)
		  AND ($3::text = '' OR value = $3::text)
		ORDER BY id`

	rows, err := r.db.Query(ctx, query, filter.PropertyID, filter.XMLID, filter.Value)
	if err != nil {
		return nil, handlePostgresError("list enums", err)
	}
	defer rows.Close()

	var result []*entity.PropertyEnum
	for rows.Next() {
		var e entity.PropertyEnum
		if err := rows.Scan(&e.ID, &e.PropertyID, &e.XMLID, &e.Value, &e.Default, &e.Sort); err != nil {
			return nil, handlePostgresError("list enums", err)
		}
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, handlePostgresError("list enums", err)
	}
	return result, nil
}

func (r *Repository) CreatePropertyEnum(ctx context.Context, e *entity.PropertyEnum) error {
	query := `
		INSERT INTO iblock_property_enum (property_id, xml_id, value, def, sort)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	if err := r.db.QueryRow(ctx, query, e.PropertyID, e.XMLID, e.Value, e.Default, e.Sort).Scan(&e.ID); err != nil {
		return handlePostgresError("create enum", err)
	}
	return nil
}

// Element operations

const elementColumns = `id, iblock_id, name, active, properties, created_at, updated_at`

func scanElement(row pgx.Row) (*entity.Element, error) {
	var el entity.Element
	if err := row.Scan(&el.ID, &el.InfoBlockID, &el.Name, &el.Active, &el.Properties, &el.CreatedAt, &el.UpdatedAt); err != nil {
		return nil, err
	}
	if el.Properties == nil {
		el.Properties = make(map[string]string)
	}
	return &el, nil
}

func (r *Repository) CreateElement(ctx context.Context, el *entity.Element) error {
	query := `
		INSERT INTO iblock_element (iblock_id, name, active, properties)
		VALUES ($1, $2, $3, $4::jsonb)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query, el.InfoBlockID, el.Name, el.Active, nonEmpty(el.Properties)).
		Scan(&el.ID, &el.CreatedAt, &el.UpdatedAt)
	if err != nil {
		return handlePostgresError("create element", err)
	}
	return nil
}

// UpdateElement merges the update into the stored element; empty property
// values remove the property.
func (r *Repository) UpdateElement(ctx context.Context, id int64, update entity.ElementUpdate) error {
	set := nonEmpty(update.Properties)
	remove := make([]string, 0)
	for code, v := range update.Properties {
		if v == "" {
			remove = append(remove, code)
		}
	}

	query := `
		UPDATE iblock_element SET
			name = COALESCE($2, name),
			active = COALESCE($3, active),
			properties = (properties || $4::jsonb) - $5::text[],
			updated_at = clock_timestamp()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, update.Name, update.Active, set, remove)
	if err != nil {
		return handlePostgresError("update element", err)
	}
	if tag.RowsAffected() == 0 {
		return entity.ErrElementNotFound
	}
	return nil
}

func (r *Repository) GetElement(ctx context.Context, id int64) (*entity.Element, error) {
	query := `SELECT ` + elementColumns + ` FROM iblock_element WHERE id = $1`

	el, err := scanElement(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entity.ErrElementNotFound
	}
	if err != nil {
		return nil, handlePostgresError("get element", err)
	}
	return el, nil
}

// ListElements returns a cursor over the listing. The matching ids are
// resolved by the first Next and loaded in pages of params.PageSize rows.
func (r *Repository) ListElements(ctx context.Context, params entity.ListElementsParams) (entity.ElementCursor, error) {
	numeric, err := r.numericCodes(ctx, params)
	if err != nil {
		return nil, err
	}
	q := &listQuery{}
	if err := q.build(params, numeric); err != nil {
		return nil, err
	}

	resolve := func(ctx context.Context) ([]int64, error) {
		rows, err := r.db.Query(ctx, q.ids(), q.args...)
		if err != nil {
			return nil, handlePostgresError("list elements", err)
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
		if err != nil {
			return nil, handlePostgresError("list elements", err)
		}
		return ids, nil
	}
	return entity.NewPagedCursor(params.PageSize, resolve, r.loadElements), nil
}

func (r *Repository) loadElements(ctx context.Context, ids []int64) ([]*entity.Element, error) {
	rows, err := r.db.Query(ctx, `SELECT `+elementColumns+` FROM iblock_element WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, handlePostgresError("load elements", err)
	}
	defer rows.Close()

	var page []*entity.Element
	for rows.Next() {
		el, err := scanElement(rows)
		if err != nil {
			return nil, handlePostgresError("load elements", err)
		}
		page = append(page, el)
	}
	if err := rows.Err(); err != nil {
		return nil, handlePostgresError("load elements", err)
	}
	return page, nil
}

// numericCodes returns the codes of number properties the listing sorts by.
func (r *Repository) numericCodes(ctx context.Context, params entity.ListElementsParams) (map[string]bool, error) {
	numeric := make(map[string]bool)
	if len(params.Sort) == 0 {
		return numeric, nil
	}
	props, err := r.ListProperties(ctx, params.InfoBlockID)
	if err != nil {
		return nil, err
	}
	for _, p := range props {
		if p.Type == entity.PropertyTypeNumber {
			numeric[p.Code] = true
		}
	}
	return numeric, nil
}

type listQuery struct {
	where []string
	order []string
	args  []any
}

func (q *listQuery) arg(v any) string {
	q.args = append(q.args, v)
	return "$" + strconv.Itoa(len(q.args))
}

// expr returns the SQL text expression of the value stored under key.
func (q *listQuery) expr(column, code string) string {
	switch column {
	case entity.FieldID:
		return "id::text"
	case entity.FieldName:
		return "name"
	case entity.FieldActive:
		return "CASE WHEN active THEN 'Y' ELSE 'N' END"
	}
	return "COALESCE(properties->>(" + q.arg(code) + "::text), '')"
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
					q.where = append(q.where, "FALSE")
					continue
				}
				q.where = append(q.where, "id = "+q.arg(id))
				continue
			}
			q.where = append(q.where, q.expr(column, code)+" = "+q.arg(c.Value))
		case entity.OpSubstring:
			q.where = append(q.where, "strpos(lower("+q.expr(column, code)+"), lower("+q.arg(c.Value)+")) > 0")
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
			v := "properties->>(" + q.arg(code) + "::text)"
			q.order = append(q.order, "CASE WHEN "+v+" ~ '^-?[0-9]+$' THEN ("+v+")::numeric END"+dir)
		default:
			q.order = append(q.order, q.expr(column, code)+` COLLATE "C"`+dir)
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
	query := `
		INSERT INTO stored_file (backend, object_key, file_name, content_type, size, checksum, checksum_algorithm, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, now()))
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query, f.Backend, f.ObjectKey, f.FileName, f.ContentType, f.Size,
		f.Checksum, f.ChecksumAlgorithm, nullTime(f.CreatedAt)).Scan(&f.ID, &f.CreatedAt)
	if err != nil {
		return handlePostgresError("create file", err)
	}
	return nil
}

func (r *Repository) GetFile(ctx context.Context, id int64) (*entity.File, error) {
	query := `
		SELECT id, backend, object_key, file_name, content_type, size, checksum, checksum_algorithm, created_at
		FROM stored_file WHERE id = $1`

	var f entity.File
	err := r.db.QueryRow(ctx, query, id).Scan(&f.ID, &f.Backend, &f.ObjectKey, &f.FileName, &f.ContentType,
		&f.Size, &f.Checksum, &f.ChecksumAlgorithm, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entity.ErrFileNotFound
	}
	if err != nil {
		return nil, handlePostgresError("get file", err)
	}
	return &f, nil
}
