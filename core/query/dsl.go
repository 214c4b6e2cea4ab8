// Package query defines the Domain-Specific Language (DSL) for constructing
// queries against entity collections. Filters address either envelope columns
// (id, environment, isConsumed, createdAt, ...) or dynamic fields through the
// "fields." prefix; the storage adapter decides how each is reached.
package query

// LogicalOperator combines filter conditions.
type LogicalOperator string

// LogicalOperatorAnd requires every condition of a group to hold.
const LogicalOperatorAnd LogicalOperator = "and"

// ComparisonOperator defines the set of operators that can be used in a filter condition.
type ComparisonOperator string

// Supported comparison operators.
const (
	ComparisonOperatorEq  ComparisonOperator = "eq"
	ComparisonOperatorNeq ComparisonOperator = "neq"
	ComparisonOperatorLt  ComparisonOperator = "lt"
)

// FilterValue represents the value used in a filter condition. It holds a
// storage-native value (see value.ToStorage).
type FilterValue any

// FilterCondition defines a single condition for filtering the results of a query.
type FilterCondition struct {
	Field    string             // The field to apply the filter on.
	Operator ComparisonOperator // The comparison operator to use.
	Value    FilterValue        // The value to compare against.
}

// FilterGroup combines multiple filter conditions using a logical operator.
type FilterGroup struct {
	Operator   LogicalOperator // The logical operator combining the conditions.
	Conditions []QueryFilter   // The list of conditions or nested groups.
}

// QueryFilter is a union type that can represent either a single filter condition
// or a group of conditions.
type QueryFilter struct {
	Condition *FilterCondition `json:",omitempty"` // A single filter condition.
	Group     *FilterGroup     `json:",omitempty"` // A group of filter conditions.
}

// SortDirection specifies the direction for sorting.
type SortDirection string

// SortDirectionAsc orders smallest first. Records are always listed oldest
// first, so no other direction is needed.
const SortDirectionAsc SortDirection = "asc"

// SortConfiguration defines the sorting order for a specific field.
type SortConfiguration struct {
	Field     string        // The field to sort by.
	Direction SortDirection // The direction of the sort (ascending or descending).
}

// PaginationOptions defines how the query results should be paginated.
type PaginationOptions struct {
	Limit  int  // The maximum number of records to return; zero means no limit.
	Offset *int `json:",omitempty"` // The starting offset.
}

// QueryDSL is the top-level structure that represents a complete query.
type QueryDSL struct {
	Filters    *QueryFilter        `json:",omitempty"`
	Sort       []SortConfiguration `json:",omitempty"`
	Pagination *PaginationOptions  `json:",omitempty"`
}

// And combines the non-nil filters into a single AND group. It returns nil
// when nothing is left and the filter itself when only one remains.
func And(filters ...*QueryFilter) *QueryFilter {
	var conditions []QueryFilter
	for _, f := range filters {
		if f != nil {
			conditions = append(conditions, *f)
		}
	}
	switch len(conditions) {
	case 0:
		return nil
	case 1:
		return &conditions[0]
	}
	return &QueryFilter{Group: &FilterGroup{Operator: LogicalOperatorAnd, Conditions: conditions}}
}

// Cond builds a filter holding a single condition.
func Cond(field string, operator ComparisonOperator, value FilterValue) *QueryFilter {
	return &QueryFilter{Condition: &FilterCondition{Field: field, Operator: operator, Value: value}}
}

// Eq is shorthand for a single equality filter.
func Eq(field string, value FilterValue) *QueryFilter {
	return Cond(field, ComparisonOperatorEq, value)
}

// Neq is shorthand for a single inequality filter.
func Neq(field string, value FilterValue) *QueryFilter {
	return Cond(field, ComparisonOperatorNeq, value)
}

// Lt is shorthand for a single less-than filter.
func Lt(field string, value FilterValue) *QueryFilter {
	return Cond(field, ComparisonOperatorLt, value)
}
