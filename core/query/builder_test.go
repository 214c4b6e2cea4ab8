package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQueryBuilder(t *testing.T) {
	qb := NewQueryBuilder()
	assert.NotNil(t, qb)
	assert.Nil(t, qb.query.Filters)
	assert.Empty(t, qb.query.Sort)
	assert.Nil(t, qb.query.Pagination)
}

func TestQueryBuilder_Build(t *testing.T) {
	qb := NewQueryBuilder()
	dsl := qb.Build()
	assert.Equal(t, QueryDSL{}, dsl)

	qb.Limit(10)
	dsl = qb.Build()
	require.NotNil(t, dsl.Pagination)
	assert.Equal(t, 10, dsl.Pagination.Limit)
}

func TestQueryBuilder_Where(t *testing.T) {
	tests := []struct {
		name     string
		buildFn  func(*QueryBuilder) *QueryBuilder
		expected QueryFilter
	}{
		{
			name: "Eq condition",
			buildFn: func(qb *QueryBuilder) *QueryBuilder {
				return qb.Where("field1").Eq("value1")
			},
			expected: QueryFilter{
				Condition: &FilterCondition{Field: "field1", Operator: ComparisonOperatorEq, Value: "value1"},
			},
		},
		{
			name: "Lt condition",
			buildFn: func(qb *QueryBuilder) *QueryBuilder {
				return qb.Where("createdAt").Lt(int64(100))
			},
			expected: QueryFilter{
				Condition: &FilterCondition{Field: "createdAt", Operator: ComparisonOperatorLt, Value: int64(100)},
			},
		},
		{
			name: "chained Where is ANDed",
			buildFn: func(qb *QueryBuilder) *QueryBuilder {
				return qb.Where("isConsumed").Eq(false).Where("environment").Eq("qa")
			},
			expected: QueryFilter{
				Group: &FilterGroup{
					Operator: LogicalOperatorAnd,
					Conditions: []QueryFilter{
						{Condition: &FilterCondition{Field: "isConsumed", Operator: ComparisonOperatorEq, Value: false}},
						{Condition: &FilterCondition{Field: "environment", Operator: ComparisonOperatorEq, Value: "qa"}},
					},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsl := tt.buildFn(NewQueryBuilder()).Build()
			require.NotNil(t, dsl.Filters)
			assert.Equal(t, tt.expected, *dsl.Filters)
		})
	}
}

func TestAnd(t *testing.T) {
	assert.Nil(t, And(nil, nil))

	single := Eq("a", 1)
	assert.Equal(t, single, And(nil, single))

	combined := And(Eq("a", 1), nil, Eq("b", 2))
	require.NotNil(t, combined.Group)
	assert.Len(t, combined.Group.Conditions, 2)
}

func TestQueryBuilder_Pagination(t *testing.T) {
	dsl := NewQueryBuilder().Offset(5).Limit(3).Build()
	require.NotNil(t, dsl.Pagination)
	assert.Equal(t, 3, dsl.Pagination.Limit)
	require.NotNil(t, dsl.Pagination.Offset)
	assert.Equal(t, 5, *dsl.Pagination.Offset)

	dsl = NewQueryBuilder().Offset(2).Build()
	require.NotNil(t, dsl.Pagination)
	assert.Zero(t, dsl.Pagination.Limit, "offset alone leaves the result unbounded")
}

func TestQueryBuilder_FilterAndOrder(t *testing.T) {
	dsl := NewQueryBuilder().
		Filter(nil).
		Filter(Eq("environment", "qa")).
		OrderByAsc("createdAt").
		OrderByAsc("id").
		Build()

	assert.Equal(t, Eq("environment", "qa"), dsl.Filters)
	assert.Equal(t, []SortConfiguration{
		{Field: "createdAt", Direction: SortDirectionAsc},
		{Field: "id", Direction: SortDirectionAsc},
	}, dsl.Sort)
}
