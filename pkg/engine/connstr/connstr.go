// SPDX-License-Identifier: Apache-2.0

// Package connstr decodes URI-style and key-value connection strings
// into an engine.ConnectionConfig, sniffing the target engine from the
// string's shape the way a CLI-less embedded driver has to.
package connstr

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/500Foods/Philement-sub005/pkg/engine"
)

const (
	defaultPostgresPort = 5432
	defaultMySQLPort    = 3306
	defaultPostgresDB   = "postgres"
)

// Parse decodes s into a ConnectionConfig, choosing the engine by
// prefix and shape:
//
//	postgresql://...     -> PostgreSQL
//	mysql://...           -> MySQL
//	DRIVER={...};K=V;...   -> DB2
//	anything else          -> SQLite (including ":memory:" and bare paths)
//
// A nil input returns a nil config and a nil error; every other input
// yields a config. Malformed strings that match none of the
// recognized prefixes fall through to the SQLite interpretation rather
// than erroring. The permissiveness is deliberate and load-bearing:
// callers pass bare filesystem paths here, so tightening it would need
// an explicit strict-mode flag, never a silent change.
func Parse(s *string) (*engine.ConnectionConfig, error) {
	if s == nil {
		return nil, nil
	}
	raw := *s

	switch {
	case strings.HasPrefix(raw, "postgresql://") || strings.HasPrefix(raw, "postgres://"):
		return parsePostgres(raw)
	case strings.HasPrefix(raw, "mysql://"):
		return parseMySQL(raw)
	case strings.Contains(raw, "DRIVER=") || strings.Contains(raw, "driver="):
		return parseDB2(raw)
	default:
		return parseSQLite(raw)
	}
}

func parsePostgres(raw string) (*engine.ConnectionConfig, error) {
	u, err := url.Parse(raw)
	if err != nil {
		// Malformed even as a URL: fall through to SQLite per the
		// permissive-parser design note.
		return parseSQLite(raw)
	}

	cfg := &engine.ConnectionConfig{EngineTag: engine.TagPostgreSQL}

	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	cfg.Host = &host

	port := defaultPostgresPort
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	cfg.Port = &port

	db := strings.TrimPrefix(u.Path, "/")
	if db == "" {
		db = defaultPostgresDB
	}
	cfg.Database = &db

	if u.User != nil {
		user := u.User.Username()
		cfg.Username = &user
		if pw, ok := u.User.Password(); ok {
			cfg.Password = &pw
		}
	}

	return cfg, nil
}

func parseMySQL(raw string) (*engine.ConnectionConfig, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return parseSQLite(raw)
	}

	cfg := &engine.ConnectionConfig{EngineTag: engine.TagMySQL}

	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}
	cfg.Host = &host

	port := defaultMySQLPort
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	cfg.Port = &port

	db := strings.TrimPrefix(u.Path, "/")
	if db != "" {
		cfg.Database = &db
	}

	// Username and password are parsed distinctly, never stored
	// together in Username.
	if u.User != nil {
		user := u.User.Username()
		cfg.Username = &user
		if pw, ok := u.User.Password(); ok {
			cfg.Password = &pw
		}
	}

	return cfg, nil
}

// parseDB2 decodes the ODBC-style "DRIVER={...};KEY=VALUE;..." grammar.
// Keys are matched case-insensitively; quoted values are stripped of
// surrounding double quotes. The full original string is retained
// verbatim in ConnectionString since the DB2 driver re-parses it itself.
func parseDB2(raw string) (*engine.ConnectionConfig, error) {
	cfg := &engine.ConnectionConfig{EngineTag: engine.TagDB2, ConnectionString: &raw}

	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.ToUpper(strings.TrimSpace(kv[0]))
		val := unquote(strings.TrimSpace(kv[1]))

		switch key {
		case "DATABASE":
			cfg.Database = &val
		case "HOSTNAME":
			cfg.Host = &val
		case "PORT":
			if n, err := strconv.Atoi(val); err == nil {
				cfg.Port = &n
			}
		case "UID":
			cfg.Username = &val
		case "PWD":
			cfg.Password = &val
		}
	}

	return cfg, nil
}

func unquote(v string) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		return v[1 : len(v)-1]
	}
	return v
}

func parseSQLite(raw string) (*engine.ConnectionConfig, error) {
	db := raw
	return &engine.ConnectionConfig{
		EngineTag: engine.TagSQLite,
		Database:  &db,
	}, nil
}

// WithSearchPath returns a PostgreSQL URL-format connection string
// whose options parameter scopes every session to schema, sparing the
// postgres driver a SET search_path round trip per connection. An
// empty schema returns connStr unchanged, still validating that it
// parses as a URL.
func WithSearchPath(connStr, schema string) (string, error) {
	u, err := url.Parse(connStr)
	if err != nil {
		return "", fmt.Errorf("connstr: parsing %q: %w", connStr, err)
	}
	if schema == "" {
		return connStr, nil
	}

	q := u.Query()
	q.Set("options", "-c search_path="+schema)
	// url.Values encodes the space in "-c search_path" as '+', which
	// libpq does not decode inside options; percent-encode it instead.
	u.RawQuery = strings.ReplaceAll(q.Encode(), "+", "%20")

	return u.String(), nil
}
