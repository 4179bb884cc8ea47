package item

import (
	"errors"
	"fmt"

	"github.com/nerrad567/gray-logic-dispatch/internal/driver"
)

// Domain errors for the item package.
var (
	// ErrItemNotFound is returned when an item ID does not exist. It
	// matches driver.ErrResourceNotFound.
	ErrItemNotFound = fmt.Errorf("item: not found: %w", driver.ErrResourceNotFound)

	// ErrItemExists is returned when creating an item with an ID that already exists.
	ErrItemExists = errors.New("item: already exists")

	// ErrInvalidItem is returned when item validation fails.
	ErrInvalidItem = errors.New("item: invalid")
)
