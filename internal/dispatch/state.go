package dispatch

import (
	"context"
	"reflect"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-dispatch/internal/driver"
	"github.com/nerrad567/gray-logic-dispatch/internal/item"
)

// evaluate runs the item's LPI state evaluation against its last-known
// value, stores the new state and publishes it when it changed.
func (c *Core) evaluate(ctx context.Context, it *item.Item) (driver.StateResult, error) {
	lpi, err := c.drivers.LPI(it.ID)
	if err != nil {
		return driver.StateResult{}, err
	}

	res := lpi.State(ctx, c.cfg.StateTimeout, it.State.Cached())
	next := item.StateFromResult(it.State, res, time.Now())

	if err := c.items.SetItemState(ctx, it.ID, next); err != nil {
		c.logger.Warn("storing item state failed", "item", it.ID, "error", err)
	} else {
		c.stateWrites.Add(1)
	}

	if stateChanged(it.State, next) {
		c.publishState(it.ID, next)
		if res.Status == driver.StateValue && c.telemetry != nil {
			if f, ok := driver.ToFloat(res.Value); ok {
				c.telemetry.WriteItemState(it.ID, f)
			}
		}
	}
	if res.Status == driver.StateError {
		c.logger.Debug("item state error", "item", it.ID, "error", res.Err)
	}
	return res, nil
}

// stateChanged reports whether next differs from prev in value, validity
// or status class.
func stateChanged(prev, next item.State) bool {
	return prev.Valid != next.Valid ||
		prev.Status != next.Status ||
		prev.Error != next.Error ||
		!reflect.DeepEqual(prev.Value, next.Value)
}

// refresh re-evaluates one item by id.
func (c *Core) refresh(ctx context.Context, itemID string) {
	it, err := c.items.GetItem(ctx, itemID)
	if err != nil {
		c.logger.Warn("refresh skipped", "item", itemID, "error", err)
		return
	}
	if _, err := c.evaluate(ctx, it); err != nil {
		c.logger.Debug("refresh skipped", "item", itemID, "error", err)
	}
}

// pollLoop is the poller worker body.
func (c *Core) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	c.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce(ctx)
		}
	}
}

// pollOnce evaluates every item that has a driver, a bounded number at a
// time.
func (c *Core) pollOnce(ctx context.Context) {
	items := c.items.ListItems()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.PollConcurrency)
	for i := range items {
		it := &items[i]
		if _, err := c.drivers.LPI(it.ID); err != nil {
			continue
		}
		g.Go(func() error {
			if _, err := c.evaluate(gctx, it); err != nil {
				c.logger.Debug("poll skipped", "item", it.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // evaluations report through state

	c.lastPoll.Store(time.Now().UnixNano())
}

// handleEvent is installed on every PHI. It must not block: events that
// do not fit the buffer are dropped and counted.
func (c *Core) handleEvent(ev driver.Event) {
	select {
	case c.eventCh <- ev:
	default:
		n := c.dropped.Add(1)
		c.logger.Warn("phi event dropped", "phi", ev.PHI, "port", ev.Port, "dropped_total", n)
	}
}

// requestRefresh schedules a state refresh for an item without blocking.
func (c *Core) requestRefresh(itemID string) {
	select {
	case c.refreshCh <- itemID:
	default:
		c.dropped.Add(1)
		c.logger.Warn("state refresh dropped", "item", itemID)
	}
}

// eventLoop is the event worker body.
func (c *Core) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.eventCh:
			c.publishEvent(ev)
			for _, id := range c.drivers.ItemsForPHI(ev.PHI) {
				c.refresh(ctx, id)
			}
		case id := <-c.refreshCh:
			c.refresh(ctx, id)
		}
	}
}
