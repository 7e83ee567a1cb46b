package bunstore

import (
	"database/sql"
	"errors"

	"github.com/uptrace/bun/driver/pgdriver"
)

// pgCode extracts the SQLSTATE code from a pgdriver error, or "" when
// err is not a postgres error.
func pgCode(err error) string {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C')
	}
	return ""
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// unique_violation
func isDuplicateKey(err error) bool {
	return pgCode(err) == "23505"
}
