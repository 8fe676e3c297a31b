package modules

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	_ "modernc.org/sqlite"
)

// driverNames maps the names scripts use to registered database/sql drivers.
var driverNames = map[string]string{
	"sqlite":     "sqlite",
	"sqlite3":    "sqlite",
	"postgres":   "postgres",
	"postgresql": "postgres",
	"mysql":      "mysql",
}

// Database is a connection configured by name outside of scripts.
type Database struct {
	Driver string
	DSN    string
}

func newSQL() (starlark.Value, error) {
	return newSQLWith(nil)()
}

func newSQLWith(dbs map[string]Database) Loader {
	return func() (starlark.Value, error) {
		return module("sql", starlark.StringDict{
			"connect": starlark.NewBuiltin("connect", sqlConnect),
			"open": starlark.NewBuiltin("open", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
				var name string
				if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
					return nil, err
				}
				db, ok := dbs[name]
				if !ok {
					return nil, fmt.Errorf("%s: no database named %q", b.Name(), name)
				}
				driver := db.Driver
				if driver == "" {
					driver = "sqlite"
				}
				return open(thread, b, driver, db.DSN)
			}),
		}), nil
	}
}

// WithDatabases returns a copy of Builtin whose sql module can also open
// the named databases with open(name). Scripts never see the DSNs.
func WithDatabases(dbs map[string]Database) map[string]Loader {
	loaders := make(map[string]Loader, len(Builtin))
	for name, l := range Builtin {
		loaders[name] = l
	}
	loaders["sql"] = newSQLWith(dbs)
	return loaders
}

func newSQLite() (starlark.Value, error) {
	return module("sqlite3", starlark.StringDict{
		"connect": starlark.NewBuiltin("connect", func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var path string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &path); err != nil {
				return nil, err
			}
			return open(thread, b, "sqlite", path)
		}),
	}), nil
}

// connect(dsn, driver="sqlite") opens a database connection. The
// connection is closed when the page finishes rendering if the script
// does not close it first.
func sqlConnect(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var dsn string
	driver := "sqlite"
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "dsn", &dsn, "driver?", &driver); err != nil {
		return nil, err
	}
	return open(thread, b, driver, dsn)
}

func open(thread *starlark.Thread, b *starlark.Builtin, driver, dsn string) (starlark.Value, error) {
	name, ok := driverNames[strings.ToLower(driver)]
	if !ok {
		return nil, fmt.Errorf("%s: unknown driver %q", b.Name(), driver)
	}
	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	if err := db.PingContext(contextOf(thread)); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	c := &connection{db: db}
	track(thread, c)
	return c.value(), nil
}

type connection struct {
	db   *sql.DB
	once sync.Once
	err  error
}

func (c *connection) Close() error {
	c.once.Do(func() { c.err = c.db.Close() })
	return c.err
}

func (c *connection) value() starlark.Value {
	return starlarkstruct.FromStringDict(starlark.String("connection"), starlark.StringDict{
		"execute": starlark.NewBuiltin("execute", c.execute),
		"query":   starlark.NewBuiltin("query", c.query),
		"close":   starlark.NewBuiltin("close", c.close),
	})
}

func unpackStatement(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (string, []any, error) {
	var stmt string
	var params starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "sql", &stmt, "params?", &params); err != nil {
		return "", nil, err
	}
	if params == starlark.None {
		return stmt, nil, nil
	}
	v, err := FromValue(params)
	if err != nil {
		return "", nil, fmt.Errorf("%s: params: %w", b.Name(), err)
	}
	list, ok := v.([]any)
	if !ok {
		return "", nil, fmt.Errorf("%s: params must be a list or tuple", b.Name())
	}
	return stmt, list, nil
}

// execute(sql, params=None) runs a statement and returns the number of
// affected rows.
func (c *connection) execute(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	stmt, params, err := unpackStatement(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	res, err := c.db.ExecContext(contextOf(thread), stmt, params...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return starlark.None, nil
	}
	return starlark.MakeInt64(n), nil
}

// query(sql, params=None) returns the result rows as a list of dicts.
func (c *connection) query(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	stmt, params, err := unpackStatement(b, args, kwargs)
	if err != nil {
		return nil, err
	}
	rows, err := c.db.QueryContext(contextOf(thread), stmt, params...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	var out []starlark.Value
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		row := starlark.NewDict(len(cols))
		for i, col := range cols {
			v := values[i]
			if raw, ok := v.([]byte); ok {
				// Drivers return text columns as []byte.
				v = string(raw)
			}
			_ = row.SetKey(starlark.String(col), ToValue(v))
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.NewList(out), nil
}

func (c *connection) close(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	if err := c.Close(); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.None, nil
}
