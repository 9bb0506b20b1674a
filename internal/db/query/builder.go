package query

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/leafsii/nft-marketplace/internal/db/interfaces"
)

// Builder evaluates queries against records of one schema
type Builder struct {
	schema *interfaces.Schema
}

// NewBuilder creates a new query builder for a schema
func NewBuilder(schema *interfaces.Schema) *Builder {
	return &Builder{schema: schema}
}

// MatchesFilters checks if a record matches the given filters
func (b *Builder) MatchesFilters(record map[string]interface{}, filters *interfaces.Filters) bool {
	if filters == nil {
		return true
	}

	for _, andFilter := range filters.AND {
		if !b.MatchesFilters(record, andFilter) {
			return false
		}
	}

	if len(filters.OR) > 0 {
		hasMatch := false
		for _, orFilter := range filters.OR {
			if b.MatchesFilters(record, orFilter) {
				hasMatch = true
				break
			}
		}
		if !hasMatch {
			return false
		}
	}

	for _, condition := range filters.Conditions {
		if !b.matchesCondition(record, condition) {
			return false
		}
	}

	return true
}

func (b *Builder) matchesCondition(record map[string]interface{}, condition interfaces.Filter) bool {
	fieldValue, exists := record[condition.Field]

	if condition.Operator == nil {
		if !exists || fieldValue == nil {
			return condition.Value == nil
		}
		return fieldValue == condition.Value
	}

	op := condition.Operator

	if op.IsNull {
		return fieldValue == nil || !exists
	}
	if op.IsNotNull {
		return fieldValue != nil && exists
	}

	if !exists {
		return false
	}

	switch {
	case op.Eq != nil:
		return fieldValue == op.Eq
	case op.Ne != nil:
		return fieldValue != op.Ne
	case op.Gt != nil:
		return Compare(fieldValue, op.Gt) > 0
	case op.Gte != nil:
		return Compare(fieldValue, op.Gte) >= 0
	case op.Lt != nil:
		return Compare(fieldValue, op.Lt) < 0
	case op.Lte != nil:
		return Compare(fieldValue, op.Lte) <= 0
	case len(op.In) > 0:
		for _, val := range op.In {
			if fieldValue == val {
				return true
			}
		}
		return false
	case len(op.NotIn) > 0:
		for _, val := range op.NotIn {
			if fieldValue == val {
				return false
			}
		}
		return true
	}

	return true
}

// Compare orders two values of the same scalar type. Mismatched types compare equal.
func Compare(a, other interface{}) int {
	switch av := a.(type) {
	case int:
		if bv, ok := other.(int); ok {
			return cmpOrdered(av, bv)
		}
	case int64:
		if bv, ok := other.(int64); ok {
			return cmpOrdered(av, bv)
		}
	case float64:
		if bv, ok := other.(float64); ok {
			return cmpOrdered(av, bv)
		}
	case string:
		if bv, ok := other.(string); ok {
			return strings.Compare(av, bv)
		}
	case bool:
		if bv, ok := other.(bool); ok && av != bv {
			if av {
				return 1
			}
			return -1
		}
	case time.Time:
		if bv, ok := other.(time.Time); ok {
			return av.Compare(bv)
		}
	}
	return 0
}

func cmpOrdered[T int | int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// ApplySort sorts records by orderBy, falling back to the id for ties so that
// results are deterministic regardless of map iteration order.
func (b *Builder) ApplySort(records []map[string]interface{}, orderBy []interfaces.OrderBy) []map[string]interface{} {
	sorted := make([]map[string]interface{}, len(records))
	copy(sorted, records)

	sort.SliceStable(sorted, func(i, j int) bool {
		for _, order := range orderBy {
			c := Compare(sorted[i][order.Field], sorted[j][order.Field])
			if c == 0 {
				continue
			}
			if order.Direction == "desc" {
				return c > 0
			}
			return c < 0
		}
		return Compare(sorted[i]["id"], sorted[j]["id"]) < 0
	})

	return sorted
}

// ApplyPagination applies limit and offset to the records
func (b *Builder) ApplyPagination(records []map[string]interface{}, limit, offset *int) []map[string]interface{} {
	start := 0
	if offset != nil && *offset > 0 {
		start = *offset
	}

	if start >= len(records) {
		return []map[string]interface{}{}
	}

	end := len(records)
	if limit != nil && *limit >= 0 {
		end = start + *limit
		if end > len(records) {
			end = len(records)
		}
	}

	return records[start:end]
}

// ValidateData validates data against the schema
func (b *Builder) ValidateData(data map[string]interface{}) error {
	for fieldName := range data {
		if isSystemField(fieldName) {
			continue
		}
		if _, known := b.schema.Fields[fieldName]; !known {
			return fmt.Errorf("%w: unknown field '%s' for table '%s'", interfaces.ErrInvalidQuery, fieldName, b.schema.TableName)
		}
	}

	for fieldName, fieldSchema := range b.schema.Fields {
		if isSystemField(fieldName) {
			continue
		}

		value, exists := data[fieldName]
		if !fieldSchema.Nullable && !exists && fieldSchema.DefaultValue == nil {
			return fmt.Errorf("field '%s' is required", fieldName)
		}
		if !exists {
			continue
		}
		if value == nil {
			if !fieldSchema.Nullable {
				return fmt.Errorf("field '%s' cannot be null", fieldName)
			}
			continue
		}
		if err := validateFieldType(fieldName, value, fieldSchema.Type); err != nil {
			return err
		}
	}

	return nil
}

// ValidatePatch type-checks the fields present in an update.
func (b *Builder) ValidatePatch(data map[string]interface{}) error {
	for fieldName, value := range data {
		if isSystemField(fieldName) {
			continue
		}
		fieldSchema, known := b.schema.Fields[fieldName]
		if !known {
			return fmt.Errorf("%w: unknown field '%s' for table '%s'", interfaces.ErrInvalidQuery, fieldName, b.schema.TableName)
		}
		if value == nil {
			if !fieldSchema.Nullable {
				return fmt.Errorf("field '%s' cannot be null", fieldName)
			}
			continue
		}
		if err := validateFieldType(fieldName, value, fieldSchema.Type); err != nil {
			return err
		}
	}
	return nil
}

func isSystemField(name string) bool {
	return name == "id" || name == "created_at" || name == "updated_at"
}

func validateFieldType(fieldName string, value interface{}, expectedType string) error {
	ok := true
	switch expectedType {
	case "string":
		_, ok = value.(string)
	case "int":
		_, ok = value.(int)
	case "int64":
		_, ok = value.(int64)
	case "bool":
		_, ok = value.(bool)
	case "float64":
		_, ok = value.(float64)
	case "time":
		switch value.(type) {
		case string, time.Time:
		default:
			ok = false
		}
	}
	if !ok {
		return fmt.Errorf("field '%s' must be of type %s, got %T", fieldName, expectedType, value)
	}
	return nil
}
