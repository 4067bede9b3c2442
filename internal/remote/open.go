package remote

import (
	"context"
	"fmt"

	"github.com/discoursegraphs/dgsync/internal/logging"
)

// Drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to the backend selected by driver.
func Open(ctx context.Context, driver, dsn string, logger *logging.Logger) (Client, error) {
	switch driver {
	case DriverSQLite:
		return OpenSQLite(dsn, logger)
	case DriverPostgres:
		return OpenPostgres(ctx, dsn, logger)
	default:
		return nil, fmt.Errorf("unknown remote driver %q", driver)
	}
}
