package entity

import (
	"context"
	"errors"
	"time"
)

// SchemaBuilder brings the stored definitions of one entity type in line
// with its entity map. It only ever adds and updates; nothing is deleted.
type SchemaBuilder struct {
	m  *Mapper
	em *EntityMap
}

// NewSchemaBuilder creates a builder for em.
func NewSchemaBuilder(m *Mapper, em *EntityMap) *SchemaBuilder {
	return &SchemaBuilder{m: m, em: em}
}

// BuildSchema builds the stored schema of T.
func BuildSchema[T any](ctx context.Context, m *Mapper) (bool, error) {
	em, err := MapOf[T]()
	if err != nil {
		return false, err
	}
	return NewSchemaBuilder(m, em).Build(ctx)
}

// Build creates the info-block and any missing property definitions and
// updates definitions whose attributes differ. It returns true once the
// stored schema matches the entity, including when nothing had to be
// written. On failure, changes already applied stay in place.
func (b *SchemaBuilder) Build(ctx context.Context) (bool, error) {
	repo := b.m.repository
	spec := b.em.InfoBlock

	iblock, err := repo.FindInfoBlock(ctx, spec.Type, spec.Code)
	switch {
	case errors.Is(err, ErrInfoBlockNotFound):
		iblock = &InfoBlock{
			Type:      spec.Type,
			Code:      spec.Code,
			Name:      spec.Name,
			CreatedAt: time.Now().UTC(),
		}
		if err := repo.CreateInfoBlock(ctx, iblock); err != nil {
			return false, &SchemaError{InfoBlock: spec.Code, Op: SchemaOpCreateInfoBlock, Err: err}
		}
		b.m.logger.Info("info-block created", "type", spec.Type, "code", spec.Code, "id", iblock.ID)
		b.notify(ctx, iblock, nil, SchemaOpCreateInfoBlock)
	case err != nil:
		return false, &SchemaError{InfoBlock: spec.Code, Op: "find_iblock", Err: err}
	}
	b.m.rememberInfoBlock(spec, iblock)

	existing, err := repo.ListProperties(ctx, iblock.ID)
	if err != nil {
		return false, &SchemaError{InfoBlock: spec.Code, Op: "list_properties", Err: err}
	}
	byCode := make(map[string]*Property, len(existing))
	for _, p := range existing {
		byCode[p.Code] = p
	}

	for i, f := range b.em.Properties() {
		want := propertyDefinition(iblock.ID, f, (i+1)*10)

		prop, ok := byCode[f.Code]
		switch {
		case !ok:
			if err := repo.CreateProperty(ctx, want); err != nil {
				return false, &SchemaError{InfoBlock: spec.Code, Property: f.Code, Op: SchemaOpCreateProperty, Err: err}
			}
			prop = want
			b.m.logger.Info("property created", "iblock", spec.Code, "code", f.Code, "type", want.Type)
			b.notify(ctx, iblock, prop, SchemaOpCreateProperty)
		case !sameDefinition(prop, want):
			prop.Name = want.Name
			prop.Type = want.Type
			prop.UserType = want.UserType
			prop.ListType = want.ListType
			prop.Multiple = want.Multiple
			if err := repo.UpdateProperty(ctx, prop); err != nil {
				return false, &SchemaError{InfoBlock: spec.Code, Property: f.Code, Op: SchemaOpUpdateProperty, Err: err}
			}
			b.m.logger.Info("property updated", "iblock", spec.Code, "code", f.Code, "type", want.Type)
			b.notify(ctx, iblock, prop, SchemaOpUpdateProperty)
		}

		if f.Kind == KindBoolean {
			if err := b.ensureYesOption(ctx, iblock, prop); err != nil {
				return false, &SchemaError{InfoBlock: spec.Code, Property: f.Code, Op: SchemaOpCreateEnum, Err: err}
			}
		}
	}
	return true, nil
}

func (b *SchemaBuilder) ensureYesOption(ctx context.Context, iblock *InfoBlock, prop *Property) error {
	repo := b.m.repository
	enums, err := repo.ListPropertyEnums(ctx, PropertyEnumFilter{PropertyID: prop.ID, XMLID: ActiveYes})
	if err != nil {
		return err
	}
	if len(enums) > 0 {
		b.m.rememberEnum(iblock.ID, prop.Code, FormatInteger(enums[0].ID))
		return nil
	}

	enum := &PropertyEnum{PropertyID: prop.ID, XMLID: ActiveYes, Value: ActiveYes, Sort: 10}
	if err := repo.CreatePropertyEnum(ctx, enum); err != nil {
		return err
	}
	b.m.rememberEnum(iblock.ID, prop.Code, FormatInteger(enum.ID))
	b.m.logger.Info("property option created", "iblock", iblock.Code, "code", prop.Code, "enum_id", enum.ID)
	b.notify(ctx, iblock, prop, SchemaOpCreateEnum)
	return nil
}

func (b *SchemaBuilder) notify(ctx context.Context, iblock *InfoBlock, prop *Property, op string) {
	if err := b.m.eventSink.SchemaChanged(ctx, iblock, prop, op); err != nil {
		b.m.logger.Warn("event sink failed", "event", "schema_changed", "op", op, "err", err)
	}
}

// propertyDefinition returns the stored definition a field requires.
func propertyDefinition(iblockID int64, f *FieldMap, sort int) *Property {
	p := &Property{
		InfoBlockID: iblockID,
		Code:        f.Code,
		Name:        f.Label,
		Multiple:    false, // mapped fields hold a single value
		Sort:        sort,
	}
	switch f.Kind {
	case KindInteger:
		p.Type = PropertyTypeNumber
	case KindBoolean:
		p.Type = PropertyTypeList
		p.ListType = ListTypeCheckbox
	case KindDateTime:
		p.Type = PropertyTypeString
		p.UserType = UserTypeDateTime
	default:
		p.Type = PropertyTypeString
	}
	return p
}

func sameDefinition(have, want *Property) bool {
	return have.Name == want.Name &&
		have.Type == want.Type &&
		have.UserType == want.UserType &&
		have.ListType == want.ListType &&
		have.Multiple == want.Multiple
}
