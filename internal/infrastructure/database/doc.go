// Package database provides SQLite connectivity for Gray Logic Dispatch.
//
// This package manages:
//   - Connections with WAL mode and a busy timeout
//   - Versioned schema migrations read from any fs.FS
//   - Transaction helpers
//
// The item registry is the only schema owner today; its tables are created
// by the files in the top-level migrations package.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be NULLABLE or carry a
// DEFAULT, and every .up.sql should ship with a .down.sql.
package database
