package store

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"modernc.org/sqlite"
)

// foldFunc is the SQL name of foldKey, registered on every connection.
const foldFunc = "fso_fold"

func init() {
	sqlite.MustRegisterDeterministicScalarFunction(foldFunc, 1,
		func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			switch v := args[0].(type) {
			case nil:
				return nil, nil
			case string:
				return foldKey(v), nil
			case []byte:
				return foldKey(string(v)), nil
			default:
				return nil, fmt.Errorf("%s: unsupported argument type %T", foldFunc, v)
			}
		})
}

// foldKey returns the Unicode case-folded form of s. Tag names and search
// terms are compared on this key, so "Über" and "über" are the same tag.
func foldKey(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

func foldAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = foldKey(s)
	}
	return out
}
