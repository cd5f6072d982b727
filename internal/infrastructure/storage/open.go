package storage

import "fmt"

// Open creates the repository for the configured driver.
func Open(driver, databasePath, postgresDSN string) (Repository, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLiteStore(databasePath)
	case "postgres":
		return NewPostgresStore(postgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
