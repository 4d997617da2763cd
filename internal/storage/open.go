package storage

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Supported STORE_DRIVER values.
const (
	DriverBadger = "badger"
	DriverSQLite = "sqlite"
)

// Open constructs the SeenStore for driver. The store is fully loaded when Open returns.
func Open(driver, path string, logger logrus.FieldLogger) (SeenStore, error) {
	var (
		store SeenStore
		err   error
	)
	switch driver {
	case DriverBadger:
		store, err = NewBadgerStore(path, logger)
	case DriverSQLite:
		store, err = NewSQLiteStore(path, logger)
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", ErrStore, driver)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}
