package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"

	"github.com/hashicorp/go-hclog"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/parishworks/registratura/internal/migrate"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	log := hclog.New(&hclog.LoggerOptions{Name: "registratura-migrate"})

	fs := flag.NewFlagSet("registratura-migrate", flag.ContinueOnError)
	driver := fs.String("driver", "postgres", "Database driver (postgres|sqlite)")
	dsn := fs.String("dsn", "", "Database connection string")
	down := fs.Bool("down", false, "Roll back every migration")
	showVersion := fs.Bool("version", false, "Print the applied schema version and exit")

	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintf(out, "Usage: registratura-migrate [OPTIONS]\n\n")
		fmt.Fprintf(out, "Applies the registratura schema to a PostgreSQL or SQLite database.\n\n")
		fmt.Fprintf(out, "OPTIONS:\n")
		fs.PrintDefaults()
		fmt.Fprintf(out, "\nEXAMPLES:\n\n")
		fmt.Fprintf(out, "  registratura-migrate -driver=postgres -dsn=\"host=localhost user=postgres password=postgres dbname=registratura port=5432 sslmode=disable\"\n")
		fmt.Fprintf(out, "  registratura-migrate -driver=sqlite -dsn=registratura.db\n")
	}

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}

	if *dsn == "" {
		log.Error("-dsn flag is required")
		return 2
	}

	// modernc registers itself as "sqlite".
	sqlDB, err := sql.Open(*driver, *dsn)
	if err != nil {
		log.Error("failed to open database", "driver", *driver, "error", err)
		return 1
	}
	defer sqlDB.Close()

	if err := sqlDB.Ping(); err != nil {
		log.Error("failed to connect to database", "driver", *driver, "error", err)
		return 1
	}

	switch {
	case *showVersion:
		v, dirty, err := migrate.GetMigrationVersion(sqlDB, *driver)
		if err != nil {
			log.Error("failed to read schema version", "error", err)
			return 1
		}
		fmt.Printf("version=%d dirty=%t\n", v, dirty)

	case *down:
		log.Info("rolling back migrations", "driver", *driver)
		if err := migrate.Down(sqlDB, *driver); err != nil {
			log.Error("rollback failed", "error", err)
			return 1
		}
		log.Info("rolled back all migrations")

	default:
		log.Info("running migrations", "driver", *driver)
		if err := migrate.RunMigrations(sqlDB, *driver); err != nil {
			log.Error("migration failed", "error", err)
			return 1
		}
		log.Info("migrations completed")
	}
	return 0
}
