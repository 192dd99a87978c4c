package option

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Maelsh/dueli/pkg/db/pagination"
)

// QueryOption mutates a gorm query before it executes. Options compose left
// to right.
type QueryOption func(*gorm.DB) *gorm.DB

type Operator string

const (
	EQ  Operator = "="
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
)

// Condition is a single field comparison applied with ApplyOperator.
type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

// LockingUpdate is a gorm scope that turns every SELECT in the transaction
// into SELECT ... FOR UPDATE. SQLite has no row locks (writers are fully
// serialized), so the clause is skipped there to keep the tests honest.
func LockingUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector != nil && tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// WithLockingUpdate applies row-level locking to a single query.
func WithLockingUpdate() QueryOption {
	return LockingUpdate
}

// WithSortBy orders the query. The sort column must be whitelisted in Allow
// when Allow is non-nil; unknown columns fall back to created_at.
func WithSortBy(sort QuerySortBy) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		column := sort.SortBy
		if column == "" {
			column = "created_at"
		}
		if sort.Allow != nil && !sort.Allow[column] {
			column = "created_at"
		}

		direction := strings.ToUpper(sort.OrderBy)
		if direction != "ASC" && direction != "DESC" {
			direction = "ASC"
		}

		return tx.Order(fmt.Sprintf("%s %s", column, direction))
	}
}

// ApplyOperator adds a comparison condition beyond gorm's struct equality
// matching.
func ApplyOperator(cond Condition) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		op := cond.Operator
		if op == "" {
			op = EQ
		}
		return tx.Where(fmt.Sprintf("%s %s ?", cond.Field, op), cond.Value)
	}
}

// ApplyLimit caps the number of returned rows; non-positive limits are
// ignored.
func ApplyLimit(limit int) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return tx
		}
		return tx.Limit(limit)
	}
}

// ApplyPagination applies cursor pagination over created_at ordering. It
// fetches one row beyond the limit so callers can detect a next page.
func ApplyPagination(p pagination.Pagination) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		limit := p.Limit
		if limit <= 0 {
			limit = 10
		}

		if p.Cursor != "" {
			if cursor, err := pagination.DecodeCursor(p.Cursor); err == nil && cursor.CreatedAt != "" {
				if at, err := time.Parse(time.RFC3339Nano, cursor.CreatedAt); err == nil {
					tx = tx.Where("created_at < ?", at)
				}
			}
		}

		return tx.Limit(limit + 1)
	}
}
