// Package bot is the user-facing command surface: it consumes normalized
// transport updates, routes commands and inline-keyboard callbacks, and
// renders the catalog views (product list, product card, pools, thresholds).
//
// The router only reads and mutates the catalog; polling and notification
// fan-out live in internal/monitor. The one coupling point is the reply
// markup attached to notifications, which this package supplies as a
// callback so monitor stays free of UI concerns.
package bot
