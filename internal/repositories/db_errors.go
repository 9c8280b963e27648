package repositories

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

const (
	mysqlDuplicateEntry = 1062
	mysqlForeignKey     = 1452
)

// isDuplicateKey reports a unique index violation, optionally restricted to one index name.
func isDuplicateKey(err error, index string) bool {
	var mysqlErr *mysql.MySQLError
	if !errors.As(err, &mysqlErr) || mysqlErr.Number != mysqlDuplicateEntry {
		return false
	}
	return index == "" || strings.Contains(mysqlErr.Message, index)
}

func isForeignKeyConstraintError(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlForeignKey
}

type scanner interface{ Scan(dest ...any) error }
