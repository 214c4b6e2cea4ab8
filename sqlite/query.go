package sqlite

import (
	"fmt"
	"sort"
	"strings"

	"github.com/asaidimu/anansi-fixtures/core/persistence"
	"github.com/asaidimu/anansi-fixtures/core/query"
)

// columnOrder is the layout of every collection table.
var columnOrder = []string{
	persistence.ColumnID,
	persistence.ColumnEntityType,
	persistence.ColumnEnvironment,
	persistence.ColumnIsConsumed,
	persistence.ColumnCreatedAt,
	persistence.ColumnUpdatedAt,
	persistence.ColumnFields,
}

var envelopeColumns = func() map[string]bool {
	m := make(map[string]bool, len(columnOrder))
	for _, c := range columnOrder {
		m[c] = true
	}
	return m
}()

// SqliteQueryGeneratorFactory implements the QueryGeneratorFactory for SQLite.
type SqliteQueryGeneratorFactory struct{}

// NewSqliteQueryGeneratorFactory creates a new instance of SqliteQueryGeneratorFactory.
func NewSqliteQueryGeneratorFactory() *SqliteQueryGeneratorFactory {
	return &SqliteQueryGeneratorFactory{}
}

// CreateGenerator creates a new SqliteQuery (which is a QueryGenerator) for the given table.
func (f *SqliteQueryGeneratorFactory) CreateGenerator(table string) (query.QueryGenerator, error) {
	return NewSqliteQuery(table)
}

// SqliteQuery generates SQL against one collection table. Envelope columns are
// addressed directly; dynamic fields are reached with json_extract on the
// fields document.
type SqliteQuery struct {
	table string
}

// NewSqliteQuery creates a new query generator for table.
func NewSqliteQuery(table string) (*SqliteQuery, error) {
	if table == "" {
		return nil, fmt.Errorf("table name cannot be empty")
	}
	return &SqliteQuery{table: table}, nil
}

// quoteIdentifier properly quotes an identifier for SQLite.
func quoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// jsonPath builds the json_extract path for a top-level key of the fields document.
func jsonPath(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("field path cannot be empty")
	}
	if strings.Contains(name, `"`) {
		return "", fmt.Errorf("field '%s' cannot be queried: name contains a double quote", name)
	}
	path := `$."` + name + `"`
	return "'" + strings.ReplaceAll(path, "'", "''") + "'", nil
}

// getFieldSQL translates a logical field path into the correct SQL accessor string.
func (s *SqliteQuery) getFieldSQL(fieldPath string) (string, error) {
	if name, ok := strings.CutPrefix(fieldPath, persistence.FieldPrefix); ok {
		path, err := jsonPath(name)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("json_extract(%s, %s)", quoteIdentifier(persistence.ColumnFields), path), nil
	}
	if !envelopeColumns[fieldPath] {
		return "", fmt.Errorf("field '%s' is not a column of %s", fieldPath, s.table)
	}
	return quoteIdentifier(fieldPath), nil
}

// prepareValueForQuery prepares a Go value for use as a SQL query parameter.
// Booleans become 0/1, which is also what json_extract yields for JSON
// booleans; composite values are compared as their JSON text.
func (s *SqliteQuery) prepareValueForQuery(fieldName string, value any) (any, error) {
	if fieldName == persistence.ColumnFields {
		if value == nil {
			return "{}", nil
		}
		m, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected map for column '%s', got %T", fieldName, value)
		}
		return encodeFields(m)
	}

	if value == nil {
		return nil, nil
	}

	switch v := value.(type) {
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case map[string]any, []any:
		return encodeValue(v)
	default:
		return value, nil
	}
}

// GenerateSelectSQL creates a complete SQL SELECT query string and its corresponding
// parameters from a `query.QueryDSL` object.
func (s *SqliteQuery) GenerateSelectSQL(dsl *query.QueryDSL) (string, []any, error) {
	if dsl == nil {
		return "", nil, fmt.Errorf("QueryDSL cannot be nil")
	}
	var queryParams []any
	limit, offset := -1, 0

	var whereSQL string
	if dsl.Filters != nil {
		var err error
		whereSQL, err = s.buildWhereClause(dsl.Filters, &queryParams)
		if err != nil {
			return "", nil, fmt.Errorf("error building WHERE clause: %w", err)
		}
	}

	orderBy, err := s.buildOrderBy(dsl.Sort)
	if err != nil {
		return "", nil, err
	}

	if dsl.Pagination != nil {
		if dsl.Pagination.Limit > 0 {
			limit = dsl.Pagination.Limit
		}
		if dsl.Pagination.Offset != nil {
			offset = *dsl.Pagination.Offset
		}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("SELECT * FROM %s", quoteIdentifier(s.table)))
	if whereSQL != "" {
		sb.WriteString(" WHERE " + whereSQL)
	}
	if orderBy != "" {
		sb.WriteString(" ORDER BY " + orderBy)
	}
	if limit > -1 {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", limit))
	}
	if offset > 0 {
		if limit < 0 {
			sb.WriteString(" LIMIT -1")
		}
		sb.WriteString(fmt.Sprintf(" OFFSET %d", offset))
	}

	return sb.String() + ";", queryParams, nil
}

func (s *SqliteQuery) buildOrderBy(sorts []query.SortConfiguration) (string, error) {
	var clauses []string
	for _, sortCfg := range sorts {
		accessor, err := s.getFieldSQL(sortCfg.Field)
		if err != nil {
			return "", fmt.Errorf("sort error: %w", err)
		}
		if sortCfg.Direction != query.SortDirectionAsc {
			return "", fmt.Errorf("unsupported sort direction: %s", sortCfg.Direction)
		}
		clauses = append(clauses, accessor+" ASC")
	}
	return strings.Join(clauses, ", "), nil
}

// buildWhereClause recursively builds the WHERE clause from a `query.QueryFilter` object.
func (s *SqliteQuery) buildWhereClause(filter *query.QueryFilter, params *[]any) (string, error) {
	if filter.Condition != nil {
		return s.buildCondition(filter.Condition, params)
	}
	if filter.Group != nil {
		if filter.Group.Operator != query.LogicalOperatorAnd {
			return "", fmt.Errorf("unsupported logical operator in filter group: %q", filter.Group.Operator)
		}
		var clauses []string
		for _, cond := range filter.Group.Conditions {
			clause, err := s.buildWhereClause(&cond, params)
			if err != nil {
				return "", err
			}
			if clause != "" {
				clauses = append(clauses, clause)
			}
		}
		if len(clauses) == 0 {
			return "", nil
		}
		return fmt.Sprintf("(%s)", strings.Join(clauses, " AND ")), nil
	}
	return "", fmt.Errorf("invalid filter structure: neither Condition nor Group is set")
}

// buildCondition translates a single `query.FilterCondition` into a SQL condition string.
func (s *SqliteQuery) buildCondition(cond *query.FilterCondition, params *[]any) (string, error) {
	accessor, err := s.getFieldSQL(cond.Field)
	if err != nil {
		return "", err
	}

	preparedValue, err := s.prepareValueForQuery(cond.Field, cond.Value)
	if err != nil {
		return "", fmt.Errorf("failed to prepare value for condition field '%s': %w", cond.Field, err)
	}

	var op string
	switch cond.Operator {
	case query.ComparisonOperatorEq:
		if preparedValue == nil {
			return fmt.Sprintf("%s IS NULL", accessor), nil
		}
		op = "="
	case query.ComparisonOperatorNeq:
		if preparedValue == nil {
			return fmt.Sprintf("%s IS NOT NULL", accessor), nil
		}
		op = "!="
	case query.ComparisonOperatorLt:
		op = "<"
	default:
		return "", fmt.Errorf("unsupported comparison operator for direct SQL: %s", cond.Operator)
	}
	*params = append(*params, preparedValue)
	return fmt.Sprintf("%s %s ?", accessor, op), nil
}

// buildSetClause renders updates in column order so the generated SQL is stable.
func (s *SqliteQuery) buildSetClause(updates map[string]any, params *[]any) (string, error) {
	if len(updates) == 0 {
		return "", fmt.Errorf("no fields provided for update")
	}

	names := make([]string, 0, len(updates))
	for name := range updates {
		if !envelopeColumns[name] {
			return "", fmt.Errorf("update set clause error: '%s' is not a column of %s", name, s.table)
		}
		if name == persistence.ColumnID {
			return "", fmt.Errorf("update set clause error: '%s' cannot be changed", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	clauses := make([]string, 0, len(names))
	for _, name := range names {
		prepared, err := s.prepareValueForQuery(name, updates[name])
		if err != nil {
			return "", fmt.Errorf("error preparing value for field '%s': %w", name, err)
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", quoteIdentifier(name)))
		*params = append(*params, prepared)
	}
	return strings.Join(clauses, ", "), nil
}

// GenerateUpdateSQL creates a SQL UPDATE query.
func (s *SqliteQuery) GenerateUpdateSQL(updates map[string]any, filters *query.QueryFilter) (string, []any, error) {
	var queryParams []any
	setSQL, err := s.buildSetClause(updates, &queryParams)
	if err != nil {
		return "", nil, err
	}

	var whereSQL string
	if filters != nil {
		whereSQL, err = s.buildWhereClause(filters, &queryParams)
		if err != nil {
			return "", nil, fmt.Errorf("error building WHERE clause for update: %w", err)
		}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("UPDATE %s SET %s", quoteIdentifier(s.table), setSQL))
	if whereSQL != "" {
		sb.WriteString(" WHERE " + whereSQL)
	}
	return sb.String() + ";", queryParams, nil
}

// GenerateInsertSQL creates a SQL INSERT query. It includes the `RETURNING *` clause
// for atomic retrieval of inserted data. NOTE: Requires SQLite version 3.35.0+.
func (s *SqliteQuery) GenerateInsertSQL(records []map[string]any) (string, []any, error) {
	if len(records) == 0 {
		return "", nil, fmt.Errorf("no records provided for insert")
	}

	for _, record := range records {
		for fieldName := range record {
			if !envelopeColumns[fieldName] {
				return "", nil, fmt.Errorf("field '%s' is not a column of %s", fieldName, s.table)
			}
		}
		if _, ok := record[persistence.ColumnID]; !ok {
			return "", nil, fmt.Errorf("record has no '%s'", persistence.ColumnID)
		}
	}

	quotedFields := make([]string, len(columnOrder))
	for i, field := range columnOrder {
		quotedFields[i] = quoteIdentifier(field)
	}

	var valuesClauses []string
	var queryParams []any
	rowPlaceholders := "(" + strings.Repeat("?, ", len(columnOrder)-1) + "?)"
	for _, record := range records {
		for _, fieldName := range columnOrder {
			preparedValue, err := s.prepareValueForQuery(fieldName, record[fieldName])
			if err != nil {
				return "", nil, fmt.Errorf("error preparing value for field '%s': %w", fieldName, err)
			}
			queryParams = append(queryParams, preparedValue)
		}
		valuesClauses = append(valuesClauses, rowPlaceholders)
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s RETURNING *;",
		quoteIdentifier(s.table), strings.Join(quotedFields, ", "), strings.Join(valuesClauses, ", "))
	return sql, queryParams, nil
}

// GenerateDeleteSQL creates a SQL DELETE query.
func (s *SqliteQuery) GenerateDeleteSQL(filters *query.QueryFilter, unsafeDelete bool) (string, []any, error) {
	var queryParams []any

	if filters == nil && !unsafeDelete {
		return "", nil, fmt.Errorf("DELETE without WHERE clause is not allowed for safety. Set unsafeDelete=true to override")
	}

	var whereSQL string
	if filters != nil {
		var err error
		whereSQL, err = s.buildWhereClause(filters, &queryParams)
		if err != nil {
			return "", nil, fmt.Errorf("error building WHERE clause for delete: %w", err)
		}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("DELETE FROM %s", quoteIdentifier(s.table)))
	if whereSQL != "" {
		sb.WriteString(" WHERE " + whereSQL)
	}
	return sb.String() + ";", queryParams, nil
}

// GenerateClaimSQL creates one UPDATE ... RETURNING statement that picks the
// first matching row in sort order and applies updates to it. The filters are
// checked again on the outer statement so a row that stopped matching is
// never returned.
func (s *SqliteQuery) GenerateClaimSQL(filters *query.QueryFilter, sorts []query.SortConfiguration, updates map[string]any) (string, []any, error) {
	var queryParams []any
	setSQL, err := s.buildSetClause(updates, &queryParams)
	if err != nil {
		return "", nil, err
	}

	var innerWhere, outerWhere string
	if filters != nil {
		innerWhere, err = s.buildWhereClause(filters, &queryParams)
		if err != nil {
			return "", nil, fmt.Errorf("error building WHERE clause for claim: %w", err)
		}
	}

	orderBy, err := s.buildOrderBy(sorts)
	if err != nil {
		return "", nil, err
	}

	if filters != nil {
		outerWhere, err = s.buildWhereClause(filters, &queryParams)
		if err != nil {
			return "", nil, fmt.Errorf("error building WHERE clause for claim: %w", err)
		}
	}

	table := quoteIdentifier(s.table)
	id := quoteIdentifier(persistence.ColumnID)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("UPDATE %s SET %s WHERE %s = (SELECT %s FROM %s", table, setSQL, id, id, table))
	if innerWhere != "" {
		sb.WriteString(" WHERE " + innerWhere)
	}
	if orderBy != "" {
		sb.WriteString(" ORDER BY " + orderBy)
	}
	sb.WriteString(" LIMIT 1)")
	if outerWhere != "" {
		sb.WriteString(" AND " + outerWhere)
	}
	return sb.String() + " RETURNING *;", queryParams, nil
}
