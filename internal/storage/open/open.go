// Package open selects a storage backend from a "scheme:target" string such
// as "sqlite:serpd.db" or "postgres:postgres://user@host/db".
package open

import (
	"context"
	"fmt"
	"strings"

	"github.com/FranksOps/serpd/internal/storage"
	"github.com/FranksOps/serpd/internal/storage/csvbackend"
	"github.com/FranksOps/serpd/internal/storage/jsonbackend"
	"github.com/FranksOps/serpd/internal/storage/postgres"
	"github.com/FranksOps/serpd/internal/storage/sqlite"
)

// Schemes lists the accepted backend prefixes.
var Schemes = []string{"sqlite", "postgres", "json", "csv"}

// Parse splits spec into scheme and target and validates the scheme.
func Parse(spec string) (scheme, target string, err error) {
	scheme, target, ok := strings.Cut(spec, ":")
	if !ok || target == "" {
		return "", "", fmt.Errorf("storage: %q is not of the form scheme:target", spec)
	}
	for _, s := range Schemes {
		if s == scheme {
			return scheme, target, nil
		}
	}
	return "", "", fmt.Errorf("storage: unknown backend %q (want one of %s)", scheme, strings.Join(Schemes, ", "))
}

// Open returns the backend described by spec.
func Open(ctx context.Context, spec string) (storage.Backend, error) {
	scheme, target, err := Parse(spec)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "sqlite":
		return sqlite.New(target)
	case "postgres":
		return postgres.New(ctx, target)
	case "json":
		return jsonbackend.New(target)
	default:
		return csvbackend.New(target)
	}
}
