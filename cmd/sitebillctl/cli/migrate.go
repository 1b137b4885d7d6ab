package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
)

// Migrator is the subset of *migrate.Migrate the command drives.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Version() (uint, bool, error)
}

// MigrateCommand runs `migrate up|down|steps N|force V|version` and returns
// the process exit code.
func MigrateCommand(m Migrator, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stderr, "usage: migrate up|down|steps N|force V|version")
		return 2
	}
	var err error
	switch args[0] {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "steps", "force":
		if len(args) != 2 {
			_, _ = fmt.Fprintf(stderr, "migrate %s: expected one integer argument\n", args[0])
			return 2
		}
		n, convErr := strconv.Atoi(args[1])
		if convErr != nil {
			_, _ = fmt.Fprintf(stderr, "migrate %s: invalid number %q\n", args[0], args[1])
			return 2
		}
		if args[0] == "steps" {
			err = m.Steps(n)
		} else {
			err = m.Force(n)
		}
	case "version":
	default:
		_, _ = fmt.Fprintf(stderr, "migrate: unknown command %q\n", args[0])
		return 2
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		_, _ = fmt.Fprintf(stderr, "migrate %s: %v\n", args[0], err)
		return 1
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		_, _ = fmt.Fprintln(stdout, "version: none")
	case err != nil:
		_, _ = fmt.Fprintf(stderr, "migrate version: %v\n", err)
		return 1
	default:
		_, _ = fmt.Fprintf(stdout, "version: %d dirty: %t\n", version, dirty)
	}
	return 0
}
