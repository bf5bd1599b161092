package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/cr0mbly/esbinder/domain/repository"
	"gorm.io/gorm"
)

// ErrNotFound is returned by FindOne when nothing matches.
var ErrNotFound = errors.New("record not found")

// Codec converts between a domain value D and its GORM model M.
type Codec[D any, M any] struct {
	Decode func(M) D
	Encode func(D) M
}

// Repository stores one GORM model and speaks in domain values.
type Repository[D any, M any] struct {
	db    Database
	codec Codec[D, M]
	noun  string
}

// NewRepository returns a Repository whose errors mention noun.
func NewRepository[D any, M any](db Database, codec Codec[D, M], noun string) Repository[D, M] {
	return Repository[D, M]{db: db, codec: codec, noun: noun}
}

func (r Repository[D, M]) table(ctx context.Context) *gorm.DB {
	return r.db.Session(ctx).Model(new(M))
}

// Find returns every record matching options.
func (r Repository[D, M]) Find(ctx context.Context, options ...repository.Option) ([]D, error) {
	var models []M
	if err := ApplyOptions(r.table(ctx), options...).Find(&models).Error; err != nil {
		return nil, fmt.Errorf("find %s: %w", r.noun, err)
	}
	out := make([]D, 0, len(models))
	for _, m := range models {
		out = append(out, r.codec.Decode(m))
	}
	return out, nil
}

// FindOne returns the first record matching options, or ErrNotFound.
func (r Repository[D, M]) FindOne(ctx context.Context, options ...repository.Option) (D, error) {
	var (
		model M
		zero  D
	)
	err := ApplyOptions(r.table(ctx), options...).Take(&model).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return zero, fmt.Errorf("%s: %w", r.noun, ErrNotFound)
	case err != nil:
		return zero, fmt.Errorf("find %s: %w", r.noun, err)
	}
	return r.codec.Decode(model), nil
}

// Count returns how many records match the conditions in options. Order,
// limit and offset are ignored.
func (r Repository[D, M]) Count(ctx context.Context, options ...repository.Option) (int64, error) {
	var n int64
	if err := ApplyConditions(r.table(ctx), options...).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count %s: %w", r.noun, err)
	}
	return n, nil
}

// Save inserts value when its model has a zero primary key and updates it
// otherwise. The returned value carries any generated key.
func (r Repository[D, M]) Save(ctx context.Context, value D) (D, error) {
	model := r.codec.Encode(value)
	if err := r.db.Session(ctx).Save(&model).Error; err != nil {
		var zero D
		return zero, fmt.Errorf("save %s: %w", r.noun, err)
	}
	return r.codec.Decode(model), nil
}
