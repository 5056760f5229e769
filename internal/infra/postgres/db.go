package postgres

import (
	"database/sql"
	"errors"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// NewDB opens a bun handle over pgdriver for the given DSN.
func NewDB(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

// SQLSTATE codes mapped onto the domain taxonomy.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
)

// pgCode returns the SQLSTATE and constraint name of a server error.
func pgCode(err error) (code, constraint string) {
	var pgErr pgdriver.Error
	if !errors.As(err, &pgErr) {
		return "", ""
	}
	return pgErr.Field('C'), pgErr.Field('n')
}
