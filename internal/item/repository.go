package item

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for item persistence operations.
type Repository interface {
	// GetByID retrieves an item by its identifier.
	// Returns ErrItemNotFound if the item does not exist.
	GetByID(ctx context.Context, id string) (*Item, error)

	// List retrieves all items ordered by id.
	List(ctx context.Context) ([]Item, error)

	// Create inserts a new item.
	// Returns ErrItemExists if an item with the same ID already exists.
	Create(ctx context.Context, item *Item) error

	// Update modifies an item's binding fields. Stored state is untouched.
	// Returns ErrItemNotFound if the item does not exist.
	Update(ctx context.Context, item *Item) error

	// Delete removes an item by ID.
	Delete(ctx context.Context, id string) error

	// UpdateState replaces the last-known state of an item.
	UpdateState(ctx context.Context, id string, state State) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectColumns = `
		SELECT id, name, item_group, lpi_type, phi_id, config,
			state_value, state_valid, state_status, state_error, state_updated_at,
			created_at, updated_at
		FROM items`

// GetByID retrieves an item by its identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Item, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	it, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("querying item by id: %w", err)
	}
	return it, nil
}

// List retrieves all items.
func (r *SQLiteRepository) List(ctx context.Context) ([]Item, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating items: %w", err)
	}
	return items, nil
}

// Create inserts a new item.
func (r *SQLiteRepository) Create(ctx context.Context, it *Item) error {
	configJSON, err := json.Marshal(it.Config)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	valueJSON, err := marshalValue(it.State.Value)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if it.CreatedAt.IsZero() {
		it.CreatedAt = now
	}
	it.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO items (
			id, name, item_group, lpi_type, phi_id, config,
			state_value, state_valid, state_status, state_error, state_updated_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID,
		it.Name,
		it.Group,
		it.LPIType,
		it.PHIID,
		string(configJSON),
		valueJSON,
		boolToInt(it.State.Valid),
		it.State.Status,
		it.State.Error,
		nullableTime(it.State.UpdatedAt),
		it.CreatedAt.Format(time.RFC3339Nano),
		it.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrItemExists
		}
		return fmt.Errorf("inserting item: %w", err)
	}
	return nil
}

// Update modifies an existing item's binding fields.
func (r *SQLiteRepository) Update(ctx context.Context, it *Item) error {
	configJSON, err := json.Marshal(it.Config)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	it.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE items SET
			name = ?, item_group = ?, lpi_type = ?, phi_id = ?, config = ?, updated_at = ?
		WHERE id = ?`,
		it.Name,
		it.Group,
		it.LPIType,
		it.PHIID,
		string(configJSON),
		it.UpdatedAt.Format(time.RFC3339Nano),
		it.ID,
	)
	if err != nil {
		return fmt.Errorf("updating item: %w", err)
	}
	return requireRow(result)
}

// Delete removes an item by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM items WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting item: %w", err)
	}
	return requireRow(result)
}

// UpdateState replaces the last-known state of an item.
func (r *SQLiteRepository) UpdateState(ctx context.Context, id string, state State) error {
	valueJSON, err := marshalValue(state.Value)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE items
		SET state_value = ?, state_valid = ?, state_status = ?, state_error = ?,
		    state_updated_at = ?, updated_at = ?
		WHERE id = ?`,
		valueJSON,
		boolToInt(state.Valid),
		state.Status,
		state.Error,
		nullableTime(state.UpdatedAt),
		now.Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating item state: %w", err)
	}
	return requireRow(result)
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(scanner rowScanner) (*Item, error) {
	var it Item
	var configJSON string
	var valueJSON, stateUpdatedAt sql.NullString
	var valid int
	var createdAt, updatedAt string

	err := scanner.Scan(
		&it.ID,
		&it.Name,
		&it.Group,
		&it.LPIType,
		&it.PHIID,
		&configJSON,
		&valueJSON,
		&valid,
		&it.State.Status,
		&it.State.Error,
		&stateUpdatedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	it.State.Valid = valid != 0
	if valueJSON.Valid {
		if err := json.Unmarshal([]byte(valueJSON.String), &it.State.Value); err != nil {
			return nil, fmt.Errorf("unmarshalling state value: %w", err)
		}
	}
	if stateUpdatedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, stateUpdatedAt.String); err == nil {
			it.State.UpdatedAt = &t
		}
	}
	if err := json.Unmarshal([]byte(configJSON), &it.Config); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	var parseErr error
	it.CreatedAt, parseErr = time.Parse(time.RFC3339Nano, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	it.UpdatedAt, parseErr = time.Parse(time.RFC3339Nano, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}
	return &it, nil
}

// marshalValue encodes a state value as JSON; nil is stored as NULL.
func marshalValue(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshalling state value: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrItemNotFound
	}
	return nil
}

// nullableTime returns a sql.NullString for optional time pointers.
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
