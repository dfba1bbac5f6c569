// Package database provides SQLite connectivity for the node's blob store.
//
// This package manages:
//   - Database connection with WAL mode and synchronous=FULL
//   - Forward-only schema migrations supplied as an fs.FS
//   - Connection lifecycle and health checks
//
// Usage:
//
//	db, err := database.Open(cfg.Storage)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
