// Package entity describes indexable entity types: their fields, the subset
// copied into search documents, and the computed fields added by providers.
package entity

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Default alias suffixes.
const (
	DefaultReadSuffix  = "read"
	DefaultWriteSuffix = "write"
)

// Schema is the validated descriptor of one entity type. It is built once at
// registration time; every lookup afterwards is a map access.
type Schema struct {
	name        string
	table       string
	baseName    string
	key         Field
	fields      map[string]Field
	order       []string
	cached      []Field
	providers   []Provider
	mapping     map[string]any
	readSuffix  string
	writeSuffix string
}

// SchemaOption configures a Schema.
type SchemaOption func(*schemaOptions)

type schemaOptions struct {
	cached      []string
	providers   []Provider
	baseName    string
	mapping     map[string]any
	readSuffix  string
	writeSuffix string
}

// WithCachedFields declares the fields copied verbatim into documents.
func WithCachedFields(names ...string) SchemaOption {
	return func(o *schemaOptions) {
		o.cached = append(o.cached, names...)
	}
}

// WithProviders registers computed field providers, applied in order.
func WithProviders(providers ...Provider) SchemaOption {
	return func(o *schemaOptions) {
		o.providers = append(o.providers, providers...)
	}
}

// WithIndexName overrides the index base name.
func WithIndexName(base string) SchemaOption {
	return func(o *schemaOptions) {
		o.baseName = base
	}
}

// WithMapping sets the settings/mappings body used when creating physical indexes.
func WithMapping(body map[string]any) SchemaOption {
	return func(o *schemaOptions) {
		o.mapping = body
	}
}

// WithAliasSuffixes overrides the read and write alias suffixes.
func WithAliasSuffixes(read, write string) SchemaOption {
	return func(o *schemaOptions) {
		o.readSuffix = read
		o.writeSuffix = write
	}
}

// NewSchema validates and creates a Schema. The key field must be part of
// fields, every cached field name must resolve, and provider field names must
// be non-empty.
func NewSchema(name, table string, key Field, fields []Field, options ...SchemaOption) (Schema, error) {
	o := schemaOptions{
		readSuffix:  DefaultReadSuffix,
		writeSuffix: DefaultWriteSuffix,
	}
	for _, opt := range options {
		opt(&o)
	}

	if name == "" || table == "" {
		return Schema{}, fmt.Errorf("%w: name and table are required", ErrInvalidSchema)
	}
	if o.readSuffix == "" || o.writeSuffix == "" || o.readSuffix == o.writeSuffix {
		return Schema{}, fmt.Errorf("%w: alias suffixes must be distinct and non-empty", ErrInvalidSchema)
	}

	s := Schema{
		name:        name,
		table:       table,
		baseName:    o.baseName,
		key:         key,
		fields:      make(map[string]Field, len(fields)),
		mapping:     o.mapping,
		readSuffix:  o.readSuffix,
		writeSuffix: o.writeSuffix,
	}
	if s.baseName == "" {
		s.baseName = DefaultBaseName(name)
	}
	if s.mapping == nil {
		s.mapping = map[string]any{"settings": map[string]any{}, "mappings": map[string]any{}}
	}

	for _, f := range fields {
		if _, dup := s.fields[f.Name()]; dup {
			return Schema{}, fmt.Errorf("%w: duplicate field %q", ErrInvalidSchema, f.Name())
		}
		s.fields[f.Name()] = f
		s.order = append(s.order, f.Name())
	}
	if f, ok := s.fields[key.Name()]; !ok || f.Column() != key.Column() {
		return Schema{}, fmt.Errorf("%w: key field %q is not declared", ErrInvalidSchema, key.Name())
	}

	var errs []error
	for _, n := range o.cached {
		f, ok := s.fields[n]
		if !ok {
			errs = append(errs, NewFieldError(name, n, ErrFieldNotFound))
			continue
		}
		s.cached = append(s.cached, f)
	}
	for i, p := range o.providers {
		if p == nil || p.FieldName() == "" {
			errs = append(errs, fmt.Errorf("%w: provider %d has no field name", ErrInvalidSchema, i))
			continue
		}
		s.providers = append(s.providers, p)
	}
	if err := errors.Join(errs...); err != nil {
		return Schema{}, err
	}
	return s, nil
}

// DefaultBaseName derives an index base name from a type name such as
// "library.Author": lowercased, with separators replaced by dashes.
func DefaultBaseName(name string) string {
	r := strings.NewReplacer(".", "-", "/", "-", "_", "-", " ", "-")
	return strings.ToLower(r.Replace(name))
}

// Name returns the entity type name.
func (s Schema) Name() string { return s.name }

// Table returns the relational table name.
func (s Schema) Table() string { return s.table }

// Key returns the primary key field.
func (s Schema) Key() Field { return s.key }

// BaseName returns the index base name.
func (s Schema) BaseName() string { return s.baseName }

// ReadAlias returns the alias readers query through.
func (s Schema) ReadAlias() string { return s.baseName + "-" + s.readSuffix }

// WriteAlias returns the alias single-row writes target.
func (s Schema) WriteAlias() string { return s.baseName + "-" + s.writeSuffix }

// Field looks up a field by name.
func (s Schema) Field(name string) (Field, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// Fields returns all fields in declaration order.
func (s Schema) Fields() []Field {
	out := make([]Field, 0, len(s.order))
	for _, n := range s.order {
		out = append(out, s.fields[n])
	}
	return out
}

// HasColumn reports whether any field is stored in column.
func (s Schema) HasColumn(column string) bool {
	for _, f := range s.fields {
		if f.Column() == column {
			return true
		}
	}
	return false
}

// Columns returns every distinct column in declaration order.
func (s Schema) Columns() []string {
	out := make([]string, 0, len(s.order))
	for _, n := range s.order {
		if c := s.fields[n].Column(); !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}

// CachedFields returns the fields copied into documents.
func (s Schema) CachedFields() []Field {
	return slices.Clone(s.cached)
}

// CachedColumns returns the key column followed by each cached field's column.
func (s Schema) CachedColumns() []string {
	out := []string{s.key.Column()}
	for _, f := range s.cached {
		if !slices.Contains(out, f.Column()) {
			out = append(out, f.Column())
		}
	}
	return out
}

// Providers returns the registered providers in application order.
func (s Schema) Providers() []Provider {
	return slices.Clone(s.providers)
}

// Mapping returns a copy of the index creation body.
func (s Schema) Mapping() map[string]any {
	return maps.Clone(s.mapping)
}

// KeyOf extracts the primary key from a row.
func (s Schema) KeyOf(row Row) (int64, error) {
	v, ok := row[s.key.Column()]
	if !ok {
		return 0, NewFieldError(s.name, s.key.Name(), ErrFieldNotFound)
	}
	k, err := ToKey(v)
	if err != nil {
		fe := NewFieldError(s.name, s.key.Name(), ErrFieldNotConvertible)
		fe.Cause = err
		return 0, fe
	}
	return k, nil
}
