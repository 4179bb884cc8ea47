package dispatch

import (
	"fmt"

	"github.com/nerrad567/gray-logic-dispatch/internal/queue"
)

// ErrNotRunning is returned by PutAction before Start or after Stop. It
// matches queue.ErrQueueStopped.
var ErrNotRunning = fmt.Errorf("dispatch: core not running: %w", queue.ErrQueueStopped)
