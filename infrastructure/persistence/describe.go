package persistence

import (
	"errors"
	"fmt"
	"path"
	"sync"

	"github.com/cr0mbly/esbinder/domain/entity"
	"github.com/cr0mbly/esbinder/internal/database"
	"gorm.io/gorm/schema"
)

// ErrNoPrimaryKey indicates a model without a primary key field.
var ErrNoPrimaryKey = errors.New("model has no primary key")

var schemaCache sync.Map

// Describe derives an entity schema from a GORM model. Every column becomes a
// field named after its column, and every belongs-to relation adds a
// reference field named after the relation ("user" for a User relation
// stored in user_id). The type name is "<package>.<Type>".
func Describe(db database.Database, model any, options ...entity.SchemaOption) (entity.Schema, error) {
	namer := db.GORM().NamingStrategy
	s, err := schema.Parse(model, &schemaCache, namer)
	if err != nil {
		return entity.Schema{}, fmt.Errorf("parse model: %w", err)
	}
	if s.PrioritizedPrimaryField == nil {
		return entity.Schema{}, fmt.Errorf("%w: %s", ErrNoPrimaryKey, s.Name)
	}

	var fields []entity.Field
	for _, f := range s.Fields {
		if f.DBName == "" {
			continue
		}
		fields = append(fields, entity.NewField(f.DBName, f.DBName, kindOf(f.DataType)))
	}

	for _, rel := range s.Relationships.BelongsTo {
		if len(rel.References) != 1 || rel.References[0].ForeignKey == nil {
			continue
		}
		name := namer.ColumnName("", rel.Name)
		column := rel.References[0].ForeignKey.DBName
		if name == column {
			continue
		}
		fields = append(fields, entity.NewField(name, column, entity.KindReference))
	}

	pk := s.PrioritizedPrimaryField
	key := entity.NewField(pk.DBName, pk.DBName, kindOf(pk.DataType))
	return entity.NewSchema(TypeName(s), s.Table, key, fields, options...)
}

// TypeName returns "<package>.<Type>" for a parsed model.
func TypeName(s *schema.Schema) string {
	pkg := path.Base(s.ModelType.PkgPath())
	if pkg == "." || pkg == "" {
		return s.ModelType.Name()
	}
	return pkg + "." + s.ModelType.Name()
}

func kindOf(dt schema.DataType) entity.Kind {
	switch dt {
	case schema.Bool:
		return entity.KindBool
	case schema.Int:
		return entity.KindInt
	case schema.Uint:
		return entity.KindUint
	case schema.Float:
		return entity.KindFloat
	case schema.Time:
		return entity.KindTime
	case schema.Bytes:
		return entity.KindBytes
	default:
		return entity.KindString
	}
}
