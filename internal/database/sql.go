package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udisondev/otpgo/internal/dc"

	"github.com/google/uuid"
)

// SQLBackend stores objects relationally: a root objects table, one
// per-class fields table with a BYTEA column per db field, and the
// accounts directory table. Field values go through the tagged-union
// codec so arbitrary in-memory values round-trip.
type SQLBackend struct {
	pool   *pgxpool.Pool
	schema *dc.Schema
}

// NewSQLBackend connects to PostgreSQL and creates any missing
// per-class field tables. The fixed tables come from RunMigrations.
func NewSQLBackend(ctx context.Context, schema *dc.Schema, dsn string) (*SQLBackend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	b := &SQLBackend{pool: pool, schema: schema}
	if err := b.ensureFieldTables(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

// Close releases the connection pool.
func (b *SQLBackend) Close() error {
	b.pool.Close()
	return nil
}

// dbFields lists the persistable, non-molecular fields of a class.
// These names double as the column whitelist: identifiers only ever
// come from the compiled schema, never from the wire.
func dbFields(class *dc.Class) []*dc.Field {
	var out []*dc.Field
	for _, f := range class.InheritedFields() {
		if f.Flags.Has(dc.Db) && f.Kind != dc.Molecular {
			out = append(out, f)
		}
	}
	return out
}

func fieldsTable(class *dc.Class) string {
	return pgx.Identifier{class.Name + "_fields"}.Sanitize()
}

func (b *SQLBackend) ensureFieldTables(ctx context.Context) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin field-table setup: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := 0; i < b.schema.NumClasses(); i++ {
		class := b.schema.ClassByNumber(uint16(i))
		fields := dbFields(class)
		if len(fields) == 0 {
			continue
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "CREATE TABLE IF NOT EXISTS %s (doId BIGINT NOT NULL PRIMARY KEY", fieldsTable(class))
		for _, f := range fields {
			fmt.Fprintf(&sb, ", %s BYTEA", pgx.Identifier{f.Name}.Sanitize())
		}
		sb.WriteString(")")
		if _, err := tx.Exec(ctx, sb.String()); err != nil {
			return fmt.Errorf("create field table for %s: %w", class.Name, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit field-table setup: %w", err)
	}
	return nil
}

func (b *SQLBackend) Exists(ctx context.Context, doId uint32) (bool, error) {
	var one int
	err := b.pool.QueryRow(ctx,
		`SELECT 1 FROM objects WHERE doId = $1`, int64(doId)).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check object %d: %w", doId, err)
	}
	return true, nil
}

func (b *SQLBackend) Load(ctx context.Context, doId uint32) (*Object, error) {
	var (
		className string
		uuIdStr   string
	)
	err := b.pool.QueryRow(ctx,
		`SELECT dcClass, uuId FROM objects WHERE doId = $1`, int64(doId)).
		Scan(&className, &uuIdStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load object %d: %w", doId, err)
	}

	class := b.schema.ClassByName(className)
	if class == nil {
		return nil, fmt.Errorf("object %d: unknown class %q", doId, className)
	}
	uuId, err := uuid.Parse(uuIdStr)
	if err != nil {
		return nil, fmt.Errorf("object %d: bad uuId: %w", doId, err)
	}

	fields := dbFields(class)
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = pgx.Identifier{f.Name}.Sanitize()
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE doId = $1",
		strings.Join(cols, ", "), fieldsTable(class))

	raw := make([][]byte, len(fields))
	dest := make([]any, len(fields))
	for i := range raw {
		dest[i] = &raw[i]
	}
	err = b.pool.QueryRow(ctx, query, int64(doId)).Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("object %d: fields row missing", doId)
	}
	if err != nil {
		return nil, fmt.Errorf("load object %d fields: %w", doId, err)
	}

	o := NewObject(doId, uuId, class)
	for i, f := range fields {
		if raw[i] == nil {
			continue
		}
		v, err := DecodeValue(raw[i])
		if err != nil {
			return nil, fmt.Errorf("object %d: field %s: %w", doId, f.Name, err)
		}
		o.Fields[f.Name] = v
	}
	return o, nil
}

func (b *SQLBackend) Save(ctx context.Context, o *Object) error {
	return b.write(ctx, o, false)
}

// Create inserts without conflict handling: the objects primary key
// makes the insert exclusive, so a doId race loses with ErrExists and
// the transaction rolls back before any field row is touched.
func (b *SQLBackend) Create(ctx context.Context, o *Object) error {
	return b.write(ctx, o, true)
}

func (b *SQLBackend) write(ctx context.Context, o *Object, exclusive bool) error {
	fields := dbFields(o.Class)

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save of object %d: %w", o.DoId, err)
	}
	defer tx.Rollback(ctx)

	objectInsert := `INSERT INTO objects (dcClass, doId, uuId) VALUES ($1, $2, $3)
		 ON CONFLICT (doId) DO NOTHING`
	if exclusive {
		objectInsert = `INSERT INTO objects (dcClass, doId, uuId) VALUES ($1, $2, $3)`
	}
	_, err = tx.Exec(ctx, objectInsert, o.Class.Name, int64(o.DoId), o.UuId.String())
	if exclusive && isUniqueViolation(err) {
		return fmt.Errorf("object %d: %w", o.DoId, ErrExists)
	}
	if err != nil {
		return fmt.Errorf("save object %d: %w", o.DoId, err)
	}

	cols := []string{"doId"}
	args := []any{int64(o.DoId)}
	var updates []string
	for _, f := range fields {
		v, ok := o.Fields[f.Name]
		if !ok {
			continue
		}
		encoded, err := EncodeValue(v)
		if err != nil {
			return fmt.Errorf("save object %d: encode field %s: %w", o.DoId, f.Name, err)
		}
		col := pgx.Identifier{f.Name}.Sanitize()
		cols = append(cols, col)
		args = append(args, encoded)
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}

	placeholders := make([]string, len(args))
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	var query string
	switch {
	case exclusive:
		// The objects insert above already fenced the id.
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			fieldsTable(o.Class), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	case len(updates) > 0:
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (doId) DO UPDATE SET %s",
			fieldsTable(o.Class), strings.Join(cols, ", "), strings.Join(placeholders, ", "),
			strings.Join(updates, ", "))
	default:
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (doId) DO NOTHING",
			fieldsTable(o.Class), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("save object %d fields: %w", o.DoId, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit save of object %d: %w", o.DoId, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (b *SQLBackend) NextDoId(ctx context.Context) (uint32, error) {
	var next int64
	err := b.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(doId) + 1, $1) FROM objects`, int64(FirstDoId)).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next doId: %w", err)
	}
	if next < int64(FirstDoId) {
		next = int64(FirstDoId)
	}
	return uint32(next), nil
}

func (b *SQLBackend) SetAccount(ctx context.Context, name string, doId uint32) error {
	_, err := b.pool.Exec(ctx,
		`INSERT INTO accounts (accountName, doId) VALUES ($1, $2)
		 ON CONFLICT (accountName) DO UPDATE SET doId = EXCLUDED.doId`,
		name, int64(doId))
	if err != nil {
		return fmt.Errorf("store account %q: %w", name, err)
	}
	return nil
}

func (b *SQLBackend) GetAccount(ctx context.Context, name string) (uint32, bool, error) {
	var doId int64
	err := b.pool.QueryRow(ctx,
		`SELECT doId FROM accounts WHERE accountName = $1`, name).Scan(&doId)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup account %q: %w", name, err)
	}
	return uint32(doId), true, nil
}
