package database

import (
	"fmt"

	"github.com/cr0mbly/esbinder/domain/repository"
	"gorm.io/gorm"
)

// ApplyOptions builds a repository.Query from the given options and applies
// it to a GORM session. Field names are used verbatim; callers accepting
// field names from outside must validate them first.
func ApplyOptions(db *gorm.DB, options ...repository.Option) *gorm.DB {
	q := repository.Build(options...)

	db = applyConditions(db, q)

	for _, ord := range q.Orders() {
		dir := "ASC"
		if !ord.Ascending() {
			dir = "DESC"
		}
		db = db.Order(fmt.Sprintf("%s %s", ord.Field(), dir))
	}

	if q.LimitValue() > 0 {
		db = db.Limit(q.LimitValue())
	}

	if q.OffsetValue() > 0 {
		db = db.Offset(q.OffsetValue())
	}

	return db
}

// ApplyConditions applies only WHERE conditions (no limit/offset/order) for
// aggregate queries such as COUNT and MAX.
func ApplyConditions(db *gorm.DB, options ...repository.Option) *gorm.DB {
	return applyConditions(db, repository.Build(options...))
}

func applyConditions(db *gorm.DB, q repository.Query) *gorm.DB {
	for _, cond := range q.Conditions() {
		if cond.In() {
			db = db.Where(fmt.Sprintf("%s %s (?)", cond.Field(), cond.Operator()), cond.Value())
			continue
		}
		if cond.Value() == nil {
			switch cond.Operator() {
			case repository.OpEqual:
				db = db.Where(fmt.Sprintf("%s IS NULL", cond.Field()))
				continue
			case repository.OpNotEqual:
				db = db.Where(fmt.Sprintf("%s IS NOT NULL", cond.Field()))
				continue
			}
		}
		db = db.Where(fmt.Sprintf("%s %s ?", cond.Field(), cond.Operator()), cond.Value())
	}
	return db
}
