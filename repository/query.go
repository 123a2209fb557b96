package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

type Querier interface {
	LookupID(ctx context.Context, table, column, value string) (int, error)
}

// QueryRepo resolves ids by a unique column. Table and column names are
// checked against an allowlist since they cannot be bound as parameters.
type QueryRepo struct {
	db      *sql.DB
	allowed map[string]map[string]bool
}

func NewQueryRepo(db *sql.DB, allowed map[string][]string) *QueryRepo {
	r := &QueryRepo{db: db, allowed: make(map[string]map[string]bool, len(allowed))}
	for table, columns := range allowed {
		r.allowed[table] = make(map[string]bool, len(columns))
		for _, c := range columns {
			r.allowed[table][c] = true
		}
	}
	return r
}

func (r *QueryRepo) LookupID(ctx context.Context, table, column, value string) (int, error) {
	if !r.allowed[table][column] {
		return 0, fmt.Errorf("invalid lookup: %s.%s", table, column)
	}

	query, args, err := sq.Select("id").From(table).Where(sq.Eq{column: value}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("building lookup: %w", err)
	}

	var id int
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("looking up '%s' in %s: %w", value, table, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("looking up '%s' in %s: %w", value, table, err)
	}
	return id, nil
}
