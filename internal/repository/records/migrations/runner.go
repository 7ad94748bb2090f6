package migrations

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// DriverURL rewrites a postgres:// connection string for the pgx/v5
// golang-migrate driver.
func DriverURL(databaseURL string) (string, error) {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(databaseURL, scheme); ok {
			return "pgx5://" + rest, nil
		}
	}
	if strings.HasPrefix(databaseURL, "pgx5://") {
		return databaseURL, nil
	}
	return "", fmt.Errorf("unsupported database url scheme in %q", redact(databaseURL))
}

// Run applies steps migrations against databaseURL. steps == 0 migrates all
// the way up; a negative value rolls back that many migrations.
func Run(databaseURL string, steps int) error {
	url, err := DriverURL(databaseURL)
	if err != nil {
		return err
	}

	src, err := iofs.New(FS, ".")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, url)
	if err != nil {
		return fmt.Errorf("create migrate: %w", err)
	}
	defer m.Close()

	if steps == 0 {
		err = m.Up()
	} else {
		err = m.Steps(steps)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		log.Println("[migrate] schema already up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read schema version: %w", err)
	}
	log.Printf("[migrate] schema at version %d (dirty=%v)", version, dirty)
	return nil
}

func redact(databaseURL string) string {
	if at := strings.LastIndex(databaseURL, "@"); at >= 0 {
		if scheme := strings.Index(databaseURL, "://"); scheme >= 0 && scheme < at {
			return databaseURL[:scheme+3] + "***" + databaseURL[at:]
		}
	}
	return databaseURL
}
