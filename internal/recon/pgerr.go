package recon

// pgerr.go extracts the offending field name from a backend write error, on
// a best-effort basis. Postgres reports the column structurally for not-null
// violations; everything else falls back to pattern matching on the message.

import (
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	columnInMessageRegex     = regexp.MustCompile(`column "([^"]+)"`)
	constraintColumnKeyRegex = regexp.MustCompile(`Key \(([^)]+)\)=`)
)

// FieldFromError pulls a field name out of a store error. Returns "" when no
// field can be attributed.
func FieldFromError(err error) string {
	if err == nil {
		return ""
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.ColumnName != "" {
			return pgErr.ColumnName
		}
		if m := constraintColumnKeyRegex.FindStringSubmatch(pgErr.Detail); m != nil {
			return strings.TrimSpace(strings.Split(m[1], ",")[0])
		}
	}

	if m := columnInMessageRegex.FindStringSubmatch(err.Error()); m != nil {
		return m[1]
	}
	return ""
}
