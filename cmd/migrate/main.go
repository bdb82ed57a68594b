package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"rhythmflow.app/internal/config"
	"rhythmflow.app/internal/migrate"
	"rhythmflow.app/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	config.LoadDotEnv()
	var (
		dsn = flag.String("dsn", os.Getenv(config.EnvPrefix+"PG_DSN"), "PostgreSQL DSN")
		dir = flag.String("dir", "", "Directory with migrations/ and seeds/ (default: embedded schema)")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatalf("missing DSN: provide via -dsn or %sPG_DSN", config.EnvPrefix)
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	var files fs.FS = pg.Files
	if *dir != "" {
		files = os.DirFS(*dir)
	}
	mgr := migrate.NewManager(db, files, pg.MigrationsDir, pg.SeedsDir)

	var applied []string
	switch flag.Arg(0) {
	case "up":
		applied, err = mgr.Up(ctx)
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if err == nil {
			fmt.Println("rolled back", name)
		}
	case "seed":
		applied, err = mgr.Seed(ctx)
	case "status":
		applied, err = mgr.Status(ctx)
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	for _, item := range applied {
		fmt.Println(item)
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}
