// Package storage opens the relational database that holds users, roles,
// hospitals and grants.
//
// Open returns a configured *sql.DB for the postgres driver (lib/pq). The
// caller owns the handle and closes it on shutdown; every other package
// receives it by injection.
//
//	db, err := storage.Open(ctx, cfg.Database, logger)
//	if err != nil { ... }
//	defer db.Close()
//
// Schema migrations live with the queries in pkg/rbac.
package storage
