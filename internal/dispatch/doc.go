// Package dispatch is the controller core of Gray Logic Dispatch.
//
// Core routes actions for items onto active item queues, evaluates item
// state through the items' LPIs and reports outcomes to a notification
// publisher and a telemetry sink. It owns three kinds of background
// workers:
//
//   - one queue worker per routing key (the item id, or the item's group)
//   - a state poller that re-evaluates every item on an interval
//   - an event worker that turns PHI change events and completed actions
//     into state refreshes
//
// Items that fail to resolve, or that have no loaded driver, are rejected
// synchronously by PutAction with driver.ErrResourceNotFound. Everything
// that happens on the bus is reported through the action's final status.
//
// Shutdown order: the poller stops, then every queue stops (pending
// actions become "ignored", running ones finish), then the event worker,
// and finally the driver registry closes its PHIs.
package dispatch
