package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"fleetwire.org/internal/auth"
	"fleetwire.org/internal/migrate"
)

func main() {
	log.SetFlags(0)
	_ = godotenv.Load()

	var (
		dsn            = flag.String("dsn", os.Getenv("FLEETWIRE_PG_DSN"), "PostgreSQL DSN")
		migrationsPath = flag.String("migrations", migrate.DefaultMigrationsDir, "Path to SQL migrations")
		seedsPath      = flag.String("seeds", migrate.DefaultSeedsDir, "Path to SQL seeds")
		adminEmail     = flag.String("admin-email", "admin@example.com", "Email for seed-admin")
		adminName      = flag.String("admin-name", "Fleet Admin", "Display name for seed-admin")
		adminPassword  = flag.String("admin-password", "password123", "Password for seed-admin")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or FLEETWIRE_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|seed-admin|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	runner := migrate.NewRunner(db, *migrationsPath, *seedsPath)

	switch flag.Arg(0) {
	case "up":
		err = runner.Up(ctx)
	case "down":
		err = runner.Down(ctx)
	case "seed":
		err = runner.Seed(ctx)
	case "seed-admin":
		err = seedAdmin(ctx, db, *adminEmail, *adminName, *adminPassword)
	case "status":
		var history []migrate.Applied
		history, err = runner.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Printf("%s\t%s\n", item.Name, item.AppliedAt.UTC().Format(time.RFC3339))
			}
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

// seedAdmin creates the bootstrap admin account. The password is hashed
// here rather than baked into a seed file so no digest lands in the repo.
func seedAdmin(ctx context.Context, db *sql.DB, email, name, password string) error {
	users := auth.NewPGStore(db).Users()

	if _, err := users.FindByEmail(ctx, email); err == nil {
		log.Printf("admin %s already exists, skipping", email)
		return nil
	} else if !errors.Is(err, auth.ErrNotFound) {
		return err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	u := &auth.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         auth.RoleAdmin,
		IsActive:     true,
	}
	if err := users.Create(ctx, u); err != nil {
		return err
	}
	log.Printf("seeded admin %s (id %s)", email, u.ID)
	return nil
}
