package storage

import (
	"errors"
	"strings"

	logx "paybot/pkg/logx"
)

// Open initializes the configured store. It returns (nil, nil) when the
// driver is "none".
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "none":
		return nil, nil
	case "", "file":
		return asStore(openFile(cfg, log))
	case "sqlite", "sqlite3":
		return asStore(openSQLite(cfg, log))
	case "postgres", "postgresql":
		return asStore(openPostgres(cfg, log))
	case "mongo", "mongodb":
		return asStore(openMongo(cfg, log))
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// asStore keeps a typed nil driver from becoming a non-nil Store.
func asStore[T Store](s T, err error) (Store, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
