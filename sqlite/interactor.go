// Package sqlite provides a concrete implementation of the persistence.DatabaseInteractor
// interface for SQLite databases. It handles the specifics of connecting to, querying,
// and managing a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/asaidimu/anansi-fixtures/core"
	"github.com/asaidimu/anansi-fixtures/core/persistence"
	"github.com/asaidimu/anansi-fixtures/core/query"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// dbRunner is an interface that abstracts the common methods of *sql.DB and *sql.Tx,
// allowing for the same code to be used for both transactional and non-transactional
// database operations.
type dbRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteInteractor is a concrete implementation of the persistence.DatabaseInteractor
// interface for SQLite. It manages the database connection, generates SQL queries,
// and executes them against the database. It can operate in both transactional and
// non-transactional modes.
type SQLiteInteractor struct {
	db                    *sql.DB
	tx                    *sql.Tx
	queryGeneratorFactory query.QueryGeneratorFactory
	logger                *zap.Logger
	options               *persistence.InteractorOptions
}

// Ensure SQLiteInteractor implements the persistence.DatabaseInteractor interface.
var _ persistence.DatabaseInteractor = (*SQLiteInteractor)(nil)

// NewSQLiteInteractor creates a new instance of the SQLiteInteractor. It can be
// configured to operate in transactional mode by providing a non-nil *sql.Tx.
func NewSQLiteInteractor(db *sql.DB, logger *zap.Logger, options *persistence.InteractorOptions, tx *sql.Tx) persistence.DatabaseInteractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if options == nil {
		defaults := persistence.DefaultInteractorOptions()
		options = &defaults
	}
	return &SQLiteInteractor{
		db:                    db,
		tx:                    tx,
		options:               options,
		queryGeneratorFactory: NewSqliteQueryGeneratorFactory(),
		logger:                logger,
	}
}

// runner returns the appropriate dbRunner for the current context, either the
// database connection pool or the active transaction.
func (i *SQLiteInteractor) runner() dbRunner {
	if i.tx != nil {
		return i.tx
	}
	return i.db
}

func (i *SQLiteInteractor) generator(collection string) (query.QueryGenerator, error) {
	queryGenerator, err := i.queryGeneratorFactory.CreateGenerator(i.tableName(collection))
	if err != nil {
		return nil, fmt.Errorf("could not get a query generator instance: %w", err)
	}
	return queryGenerator, nil
}

// readRows reads all rows from a *sql.Rows object and converts them into
// persistence.Document maps, decoding the fields document and the boolean flag.
func readRows(rows *sql.Rows) ([]persistence.Document, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	var results []persistence.Document
	for rows.Next() {
		row := make(persistence.Document, len(columns))
		values := make([]any, len(columns))
		scanArgs := make([]any, len(columns))
		for i := range values {
			scanArgs[i] = &values[i]
		}

		if err := rows.Scan(scanArgs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		for i, col := range columns {
			val := values[i]
			switch col {
			case persistence.ColumnIsConsumed:
				switch x := val.(type) {
				case int64:
					row[col] = x != 0
				case bool:
					row[col] = x
				default:
					row[col] = false
				}
			case persistence.ColumnFields:
				fields, err := decodeFields(val)
				if err != nil {
					return nil, err
				}
				row[col] = fields
			default:
				if b, ok := val.([]byte); ok {
					val = string(b)
				}
				row[col] = val
			}
		}
		results = append(results, row)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error after scanning rows: %w", err)
	}
	return results, nil
}

// translateError maps constraint violations to core.ErrConflict.
func translateError(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
			return fmt.Errorf("%w: %v", core.ErrConflict, err)
		}
	}
	return err
}

func (i *SQLiteInteractor) queryDocuments(ctx context.Context, op, sqlQuery string, queryParams []any) ([]persistence.Document, error) {
	i.logger.Debug("Executing SQL "+op, zap.String("sql", sqlQuery), zap.Any("params", queryParams))

	rows, err := i.runner().QueryContext(ctx, sqlQuery, queryParams...)
	if err != nil {
		i.logger.Error("Failed to execute "+op+" query", zap.Error(err), zap.String("sql", sqlQuery))
		return nil, fmt.Errorf("failed to execute %s query: %w", op, translateError(err))
	}
	defer rows.Close()

	docs, err := readRows(rows)
	if err != nil {
		return nil, translateError(err)
	}
	return docs, nil
}

func (i *SQLiteInteractor) execDocuments(ctx context.Context, op, sqlQuery string, queryParams []any) (int64, error) {
	i.logger.Debug("Executing SQL "+op, zap.String("sql", sqlQuery), zap.Any("params", queryParams))

	result, err := i.runner().ExecContext(ctx, sqlQuery, queryParams...)
	if err != nil {
		i.logger.Error("Failed to execute "+op+" query", zap.Error(err), zap.String("sql", sqlQuery))
		return 0, fmt.Errorf("failed to execute %s query: %w", op, translateError(err))
	}
	return result.RowsAffected()
}

// SelectDocuments executes a SELECT query against the database.
func (i *SQLiteInteractor) SelectDocuments(ctx context.Context, collection string, dsl *query.QueryDSL) ([]persistence.Document, error) {
	queryGenerator, err := i.generator(collection)
	if err != nil {
		return nil, err
	}

	sqlQuery, queryParams, err := queryGenerator.GenerateSelectSQL(dsl)
	if err != nil {
		return nil, fmt.Errorf("failed to generate SQL query: %w", err)
	}
	return i.queryDocuments(ctx, "SELECT", sqlQuery, queryParams)
}

// UpdateDocuments executes an UPDATE query against the database.
func (i *SQLiteInteractor) UpdateDocuments(ctx context.Context, collection string, updates map[string]any, filters *query.QueryFilter) (int64, error) {
	queryGenerator, err := i.generator(collection)
	if err != nil {
		return 0, err
	}

	sqlQuery, queryParams, err := queryGenerator.GenerateUpdateSQL(updates, filters)
	if err != nil {
		return 0, fmt.Errorf("failed to generate SQL UPDATE query: %w", err)
	}
	return i.execDocuments(ctx, "UPDATE", sqlQuery, queryParams)
}

// InsertDocuments executes an INSERT query against the database.
func (i *SQLiteInteractor) InsertDocuments(ctx context.Context, collection string, records []map[string]any) ([]persistence.Document, error) {
	if len(records) == 0 {
		return []persistence.Document{}, nil
	}
	queryGenerator, err := i.generator(collection)
	if err != nil {
		return nil, err
	}

	sqlQuery, queryParams, err := queryGenerator.GenerateInsertSQL(records)
	if err != nil {
		return nil, fmt.Errorf("failed to generate INSERT SQL: %w", err)
	}
	return i.queryDocuments(ctx, "INSERT ... RETURNING", sqlQuery, queryParams)
}

// DeleteDocuments executes a DELETE query against the database.
func (i *SQLiteInteractor) DeleteDocuments(ctx context.Context, collection string, filters *query.QueryFilter, unsafeDelete bool) (int64, error) {
	queryGenerator, err := i.generator(collection)
	if err != nil {
		return 0, err
	}

	sqlQuery, queryParams, err := queryGenerator.GenerateDeleteSQL(filters, unsafeDelete)
	if err != nil {
		return 0, fmt.Errorf("failed to generate DELETE SQL: %w", err)
	}
	return i.execDocuments(ctx, "DELETE", sqlQuery, queryParams)
}

// ClaimDocument runs a single UPDATE ... RETURNING statement, so two
// concurrent claims can never return the same row.
func (i *SQLiteInteractor) ClaimDocument(ctx context.Context, collection string, filters *query.QueryFilter, sort []query.SortConfiguration, updates map[string]any) (persistence.Document, error) {
	queryGenerator, err := i.generator(collection)
	if err != nil {
		return nil, err
	}

	sqlQuery, queryParams, err := queryGenerator.GenerateClaimSQL(filters, sort, updates)
	if err != nil {
		return nil, fmt.Errorf("failed to generate claim SQL: %w", err)
	}

	docs, err := i.queryDocuments(ctx, "UPDATE ... RETURNING", sqlQuery, queryParams)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

// StartTransaction begins a new database transaction and returns a new SQLiteInteractor
// that is scoped to that transaction.
func (i *SQLiteInteractor) StartTransaction(ctx context.Context) (persistence.DatabaseInteractor, error) {
	if i.tx != nil {
		return nil, fmt.Errorf("cannot start a new transaction from an existing transactional interactor")
	}

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	i.logger.Debug("Transaction initiated, returning new transactional interactor")
	return NewSQLiteInteractor(i.db, i.logger, i.options, tx), nil
}

// Commit commits the current transaction.
func (i *SQLiteInteractor) Commit(ctx context.Context) error {
	if i.tx == nil {
		return fmt.Errorf("commit not applicable: not in a transactional context")
	}
	i.logger.Debug("Committing transaction")
	return i.tx.Commit()
}

// Rollback rolls back the current transaction. Rolling back a transaction that
// was already committed is a no-op.
func (i *SQLiteInteractor) Rollback(ctx context.Context) error {
	if i.tx == nil {
		return fmt.Errorf("rollback not applicable: not in a transactional context")
	}
	if err := i.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}
