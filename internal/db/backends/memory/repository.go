package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/leafsii/nft-marketplace/internal/db/interfaces"
	"github.com/leafsii/nft-marketplace/internal/db/query"
)

// Repository implements interfaces.Repository over one in-memory table
type Repository struct {
	db        *Database
	schema    *interfaces.Schema
	builder   *query.Builder
	tableName string
}

// NewRepository creates a new in-memory repository
func NewRepository(db *Database, schema *interfaces.Schema) *Repository {
	return &Repository{
		db:        db,
		schema:    schema,
		builder:   query.NewBuilder(schema),
		tableName: schema.TableName,
	}
}

func (r *Repository) GetByID(ctx context.Context, id interfaces.ID) (map[string]interface{}, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	record, exists := r.db.tables[r.tableName][id.String()]
	if !exists {
		return nil, interfaces.ErrNotFound
	}
	return copyRecord(record), nil
}

func (r *Repository) FindOne(ctx context.Context, q *interfaces.Query) (map[string]interface{}, error) {
	one := interfaces.Query{}
	if q != nil {
		one = *q
	}
	limit := 1
	one.Limit = &limit

	result, err := r.FindMany(ctx, &one)
	if err != nil {
		return nil, err
	}
	if len(result.Data) == 0 {
		return nil, interfaces.ErrNotFound
	}
	return result.Data[0], nil
}

// FindMany returns matching records. Without an explicit OrderBy records are ordered by id.
func (r *Repository) FindMany(ctx context.Context, q *interfaces.Query) (*interfaces.ResultPage, error) {
	if q == nil {
		q = &interfaces.Query{}
	}

	r.db.mu.RLock()
	records := make([]map[string]interface{}, 0, len(r.db.tables[r.tableName]))
	for _, record := range r.db.tables[r.tableName] {
		if r.builder.MatchesFilters(record, q.Where) {
			records = append(records, copyRecord(record))
		}
	}
	r.db.mu.RUnlock()

	total := int64(len(records))
	records = r.builder.ApplySort(records, q.OrderBy)

	offset := 0
	if q.Offset != nil {
		offset = *q.Offset
	}
	pageSize := len(records)
	if q.Limit != nil {
		pageSize = *q.Limit
	}
	records = r.builder.ApplyPagination(records, q.Limit, q.Offset)

	if len(q.Select) > 0 {
		projected := make([]map[string]interface{}, 0, len(records))
		for _, record := range records {
			p := make(map[string]interface{}, len(q.Select))
			for _, field := range q.Select {
				if value, exists := record[field]; exists {
					p[field] = value
				}
			}
			projected = append(projected, p)
		}
		records = projected
	}

	page := 1
	if pageSize > 0 {
		page = (offset / pageSize) + 1
	}

	return &interfaces.ResultPage{
		Data:     records,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// Create inserts a new record. A missing id is filled with a random UUID.
func (r *Repository) Create(ctx context.Context, data map[string]interface{}) (map[string]interface{}, error) {
	if err := r.builder.ValidateData(data); err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}

	record := copyRecord(data)
	if _, exists := record["id"]; !exists {
		record["id"] = uuid.New().String()
	}
	id, ok := record["id"].(string)
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: id must be a non-empty string", interfaces.ErrInvalidQuery)
	}

	now := time.Now().UTC()
	record["created_at"] = now
	record["updated_at"] = now

	for fieldName, fieldSchema := range r.schema.Fields {
		if _, exists := record[fieldName]; !exists && fieldSchema.DefaultValue != nil {
			record[fieldName] = fieldSchema.DefaultValue
		}
	}

	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	t, exists := r.db.tables[r.tableName]
	if !exists {
		t = make(table)
		r.db.tables[r.tableName] = t
	}

	if _, exists := t[id]; exists {
		return nil, fmt.Errorf("%w: record with id '%s' already exists", interfaces.ErrUniqueConstraint, id)
	}
	if err := r.validateUniqueConstraints(t, record, ""); err != nil {
		return nil, err
	}
	if err := r.validateForeignKeyConstraints(record); err != nil {
		return nil, err
	}

	t[id] = record
	return copyRecord(record), nil
}

func (r *Repository) Update(ctx context.Context, id interfaces.ID, data map[string]interface{}) (map[string]interface{}, error) {
	if err := r.builder.ValidatePatch(data); err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}

	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	t := r.db.tables[r.tableName]
	existing, exists := t[id.String()]
	if !exists {
		return nil, interfaces.ErrNotFound
	}

	updated := copyRecord(existing)
	for k, v := range data {
		if k == "id" || k == "created_at" {
			continue
		}
		updated[k] = v
	}
	updated["updated_at"] = time.Now().UTC()

	if err := r.validateUniqueConstraints(t, updated, id.String()); err != nil {
		return nil, err
	}
	if err := r.validateForeignKeyConstraints(updated); err != nil {
		return nil, err
	}

	t[id.String()] = updated
	return copyRecord(updated), nil
}

// Upsert updates the record matching uniqueFields or creates one carrying both maps.
func (r *Repository) Upsert(ctx context.Context, uniqueFields map[string]interface{}, data map[string]interface{}) (map[string]interface{}, error) {
	existing, err := r.FindOne(ctx, &interfaces.Query{Where: interfaces.Where(uniqueFields)})
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		return nil, err
	}

	if existing != nil {
		return r.Update(ctx, interfaces.StringID(existing["id"].(string)), data)
	}

	createData := copyRecord(data)
	for k, v := range uniqueFields {
		createData[k] = v
	}
	return r.Create(ctx, createData)
}

func (r *Repository) Delete(ctx context.Context, id interfaces.ID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	t := r.db.tables[r.tableName]
	record, exists := t[id.String()]
	if !exists {
		return interfaces.ErrNotFound
	}

	if err := r.validateForeignKeyConstraintsOnDelete(record); err != nil {
		return err
	}

	delete(t, id.String())
	return nil
}

func (r *Repository) Count(ctx context.Context, q *interfaces.Query) (int64, error) {
	if q == nil || q.Where == nil {
		r.db.mu.RLock()
		defer r.db.mu.RUnlock()
		return int64(len(r.db.tables[r.tableName])), nil
	}

	result, err := r.FindMany(ctx, &interfaces.Query{Where: q.Where})
	if err != nil {
		return 0, err
	}
	return result.Total, nil
}

func (r *Repository) GetSchema() *interfaces.Schema {
	return r.schema
}

// Constraint checks below must be called with r.db.mu held.

func (r *Repository) validateUniqueConstraints(t table, record map[string]interface{}, excludeID string) error {
	for fieldName, fieldSchema := range r.schema.Fields {
		if !fieldSchema.Unique || fieldName == "id" {
			continue
		}
		value, exists := record[fieldName]
		if !exists || value == nil {
			continue
		}
		for id, existing := range t {
			if id != excludeID && existing[fieldName] == value {
				return fmt.Errorf("%w: field '%s' value '%v'", interfaces.ErrUniqueConstraint, fieldName, value)
			}
		}
	}

	for _, index := range r.schema.Indexes {
		if !index.Unique {
			continue
		}
		for id, existing := range t {
			if id == excludeID {
				continue
			}
			match := true
			for _, column := range index.Columns {
				if existing[column] != record[column] {
					match = false
					break
				}
			}
			if match {
				return fmt.Errorf("%w: unique index '%s'", interfaces.ErrUniqueConstraint, index.Name)
			}
		}
	}

	return nil
}

func (r *Repository) validateForeignKeyConstraints(record map[string]interface{}) error {
	for fieldName, fieldSchema := range r.schema.Fields {
		fk := fieldSchema.ForeignKey
		if fk == nil {
			continue
		}
		value, exists := record[fieldName]
		if !exists || value == nil {
			continue
		}
		if !r.db.hasValue(fk.Table, fk.Column, value) {
			return fmt.Errorf("%w: field '%s' references non-existent %s.%s '%v'",
				interfaces.ErrForeignKeyConstraint, fieldName, fk.Table, fk.Column, value)
		}
	}
	return nil
}

// validateForeignKeyConstraintsOnDelete rejects deleting a record still
// referenced by a table whose schema declares a foreign key into this one.
func (r *Repository) validateForeignKeyConstraintsOnDelete(record map[string]interface{}) error {
	for tableName, schema := range r.db.schemas {
		for fieldName, fieldSchema := range schema.Fields {
			fk := fieldSchema.ForeignKey
			if fk == nil || fk.Table != r.tableName {
				continue
			}
			if r.db.hasValue(tableName, fieldName, record[fk.Column]) {
				return fmt.Errorf("%w: record is referenced by table '%s', field '%s'",
					interfaces.ErrForeignKeyConstraint, tableName, fieldName)
			}
		}
	}
	return nil
}

func (db *Database) hasValue(tableName, column string, value interface{}) bool {
	if value == nil {
		return false
	}
	for _, record := range db.tables[tableName] {
		if record[column] == value {
			return true
		}
	}
	return false
}
