package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/asaidimu/anansi-fixtures/core/persistence"
	"go.uber.org/zap"
)

// tableName returns the unquoted table name with the configured prefix applied.
func (s *SQLiteInteractor) tableName(collection string) string {
	return s.options.TablePrefix + collection
}

// CreateCollection creates the table backing a collection together with the
// indexes used by claims and retention sweeps.
func (s *SQLiteInteractor) CreateCollection(ctx context.Context, collection string) error {
	if collection == "" {
		return fmt.Errorf("collection name cannot be empty")
	}
	for _, stmt := range s.CreateTableSQL(collection) {
		if _, err := s.runner().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute SQL statement '%s': %w", stmt, err)
		}
	}
	s.logger.Debug("Created collection table", zap.String("collection", collection))
	return nil
}

// CreateTableSQL generates the DDL statements for a collection table.
func (s *SQLiteInteractor) CreateTableSQL(collection string) []string {
	table := s.tableName(collection)
	quoted := quoteIdentifier(table)

	var sb strings.Builder
	sb.WriteString("CREATE TABLE ")
	if s.options.IfNotExists {
		sb.WriteString("IF NOT EXISTS ")
	}
	sb.WriteString(quoted + " (\n")
	columns := []string{
		fmt.Sprintf("    %s TEXT NOT NULL PRIMARY KEY", quoteIdentifier(persistence.ColumnID)),
		fmt.Sprintf("    %s TEXT NOT NULL", quoteIdentifier(persistence.ColumnEntityType)),
		fmt.Sprintf("    %s TEXT", quoteIdentifier(persistence.ColumnEnvironment)),
		fmt.Sprintf("    %s INTEGER NOT NULL DEFAULT 0", quoteIdentifier(persistence.ColumnIsConsumed)),
		fmt.Sprintf("    %s INTEGER NOT NULL", quoteIdentifier(persistence.ColumnCreatedAt)),
		fmt.Sprintf("    %s INTEGER NOT NULL", quoteIdentifier(persistence.ColumnUpdatedAt)),
		fmt.Sprintf("    %s TEXT NOT NULL DEFAULT '{}'", quoteIdentifier(persistence.ColumnFields)),
	}
	sb.WriteString(strings.Join(columns, ",\n"))
	sb.WriteString("\n);")

	stmts := []string{sb.String()}
	if s.options.CreateIndexes {
		stmts = append(stmts,
			s.createIndexSQL(table, persistence.ColumnIsConsumed, persistence.ColumnEnvironment, persistence.ColumnCreatedAt),
			s.createIndexSQL(table, persistence.ColumnCreatedAt),
		)
	}
	return stmts
}

func (s *SQLiteInteractor) createIndexSQL(table string, fields ...string) string {
	name := fmt.Sprintf("idx_%s_%s", table, strings.Join(fields, "_"))
	quotedFields := make([]string, len(fields))
	for i, f := range fields {
		quotedFields[i] = quoteIdentifier(f)
	}
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s);",
		quoteIdentifier(name), quoteIdentifier(table), strings.Join(quotedFields, ", "))
}

// DropCollection drops a table from the database.
func (s *SQLiteInteractor) DropCollection(ctx context.Context, collection string) error {
	fullTableName := quoteIdentifier(s.tableName(collection))
	if _, err := s.runner().ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s;", fullTableName)); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", fullTableName, err)
	}
	return nil
}

// CollectionExists checks if a table exists in the database. Table names are
// matched without regard to case, as SQLite resolves them.
func (s *SQLiteInteractor) CollectionExists(ctx context.Context, collection string) (bool, error) {
	query := "SELECT name FROM sqlite_master WHERE type='table' AND name = ? COLLATE NOCASE;"

	var name string
	err := s.runner().QueryRowContext(ctx, query, s.tableName(collection)).Scan(&name)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Collections lists the collection tables carrying the configured prefix.
func (s *SQLiteInteractor) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.runner().QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite\\_%' ESCAPE '\\' ORDER BY name;")
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		if collection, ok := strings.CutPrefix(name, s.options.TablePrefix); ok {
			names = append(names, collection)
		}
	}
	return names, rows.Err()
}
