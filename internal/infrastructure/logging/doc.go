// Package logging builds the daemon's log/slog logger from the logging
// config section:
//
//	logging:
//	  level: info      # debug, info, warn, error
//	  format: json     # json, text
//	  output: stdout   # stdout, stderr
//
// Every entry carries service=graydispatch and the build version.
// Subsystems get a child logger via Component, and that child satisfies the
// small Logger interfaces the queue, driver and dispatch packages declare:
//
//	log := logging.New(cfg.Logging, version)
//	q.SetLogger(log.Component("queue"))
//
// Log ids and addresses, never broker or database credentials.
package logging
