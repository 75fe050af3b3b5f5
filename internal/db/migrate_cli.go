package db

import (
	"fmt"
	"log"
	"os"
	"strconv"
)

// RunMigrateCommand handles the 'migrate' subcommand dispatching
func RunMigrateCommand(args []string, dbPath string) {
	if len(args) < 1 {
		PrintMigrateHelp()
		os.Exit(1)
	}

	action := args[0]

	// Open database connection without running migrations automatically;
	// each action decides what to apply.
	database, err := OpenDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	switch action {
	case "up":
		handleMigrateUp(database)

	case "down":
		handleMigrateDown(database)

	case "status":
		handleMigrateStatus(database)

	case "goto":
		if len(args) < 2 {
			log.Fatal("Usage: pms migrate goto <version_number>")
		}
		handleMigrateTo(database, args[1])

	case "force":
		if len(args) < 2 {
			log.Fatal("Usage: pms migrate force <version_number>")
		}
		handleMigrateForce(database, args[1])

	case "help":
		PrintMigrateHelp()

	default:
		fmt.Printf("Unknown migrate action: %s\n\n", action)
		PrintMigrateHelp()
		os.Exit(1)
	}
}

// handleMigrateUp applies all pending migrations
func handleMigrateUp(database *DB) {
	log.Printf("Running migrations...")
	if err := database.MigrateUp(); err != nil {
		log.Fatalf("Migration up failed: %v", err)
	}
	log.Println("✓ All migrations applied successfully")

	// Show current version
	version, dirty, _ := database.MigrateVersion()
	log.Printf("Current version: %d (dirty: %v)", version, dirty)
}

// handleMigrateDown rolls back one migration
func handleMigrateDown(database *DB) {
	log.Printf("Rolling back one migration...")
	if err := database.MigrateDown(); err != nil {
		log.Fatalf("Migration down failed: %v", err)
	}
	log.Println("✓ Migration rolled back successfully")

	// Show current version
	version, dirty, _ := database.MigrateVersion()
	log.Printf("Current version: %d (dirty: %v)", version, dirty)
}

// handleMigrateStatus displays the current migration status
func handleMigrateStatus(database *DB) {
	version, dirty, err := database.MigrateVersion()
	if err != nil {
		log.Fatalf("Failed to get migration status: %v", err)
	}

	fmt.Println("=== Migration Status ===")
	fmt.Printf("Current version: %d\n", version)
	fmt.Printf("Dirty: %v\n", dirty)

	if dirty {
		fmt.Println("\n⚠️  WARNING: Database is in a dirty state!")
		fmt.Println("A migration failed mid-execution. You may need to:")
		fmt.Println("  1. Inspect the database manually")
		fmt.Println("  2. Fix any partial changes")
		fmt.Println("  3. Run 'pms migrate force <version>' to mark it clean")
	}
}

// handleMigrateTo migrates to the named version, up or down
func handleMigrateTo(database *DB, versionStr string) {
	version, err := strconv.ParseUint(versionStr, 10, 32)
	if err != nil {
		log.Fatalf("Invalid version number %q: %v", versionStr, err)
	}

	log.Printf("Migrating to version %d...", version)
	if err := database.MigrateTo(uint(version)); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Printf("✓ Migrated to version %d", version)
}

// handleMigrateForce marks the database at the named version without
// running any migration
func handleMigrateForce(database *DB, versionStr string) {
	version, err := strconv.Atoi(versionStr)
	if err != nil {
		log.Fatalf("Invalid version number %q: %v", versionStr, err)
	}

	log.Printf("Forcing migration version to %d...", version)
	if err := database.MigrateForce(version); err != nil {
		log.Fatalf("Force failed: %v", err)
	}
	log.Printf("✓ Version forced to %d", version)
}

// PrintMigrateHelp prints usage for the migrate subcommand
func PrintMigrateHelp() {
	fmt.Println(`Usage: pms migrate <action> [arguments]

Actions:
  up                 Apply all pending migrations
  down               Roll back the most recent migration
  status             Show the current migration version and dirty state
  goto <version>     Migrate up or down to a specific version
  force <version>    Mark the database at a version without migrating
  help               Show this help

The database path comes from the -db-path flag on the main command.`)
}
