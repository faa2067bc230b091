package database

import (
	"fmt"
	"log"
	"os"
)

// schema holds the CREATE statements per dialect. Order matters only for readability:
// the recommendation tables have no foreign keys to the domain tables.
var schema = map[Dialect][]string{
	DialectMySQL: {
		`CREATE TABLE IF NOT EXISTS recommendation_cache (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			mode VARCHAR(32) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			recommendations JSON NULL,
			error_message TEXT NULL,
			prompt_hash VARCHAR(64) NULL,
			created_at DATETIME(3) NOT NULL,
			expires_at DATETIME(3) NOT NULL,
			UNIQUE KEY uq_recommendation_cache_user_mode (user_id, mode),
			INDEX idx_recommendation_cache_expires (expires_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS menu_preferences (
			user_id VARCHAR(255) PRIMARY KEY,
			preferred_mode VARCHAR(32) NOT NULL DEFAULT 'budget',
			favorite_categories JSON NULL,
			disliked_ingredients JSON NULL,
			priority_price INT NOT NULL DEFAULT 33,
			priority_nutrition INT NOT NULL DEFAULT 33,
			priority_delivery INT NOT NULL DEFAULT 34,
			monthly_budget BIGINT NOT NULL DEFAULT 300000,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS meal_records (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			menu_name VARCHAR(255) NOT NULL,
			calories INT NOT NULL DEFAULT 0,
			cost BIGINT NOT NULL DEFAULT 0,
			meal_date DATE NOT NULL,
			INDEX idx_meal_records_user_date (user_id, meal_date)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS liked_meals (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			menu_name VARCHAR(255) NOT NULL,
			calories INT NOT NULL DEFAULT 0,
			price BIGINT NOT NULL DEFAULT 0,
			created_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
			UNIQUE KEY uq_liked_meals_user_menu (user_id, menu_name)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	},
	DialectSQLite: {
		`CREATE TABLE IF NOT EXISTS recommendation_cache (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			mode TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			recommendations TEXT NULL,
			error_message TEXT NULL,
			prompt_hash TEXT NULL,
			created_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL,
			UNIQUE (user_id, mode)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_recommendation_cache_expires ON recommendation_cache (expires_at)`,
		`CREATE TABLE IF NOT EXISTS menu_preferences (
			user_id TEXT PRIMARY KEY,
			preferred_mode TEXT NOT NULL DEFAULT 'budget',
			favorite_categories TEXT NULL,
			disliked_ingredients TEXT NULL,
			priority_price INTEGER NOT NULL DEFAULT 33,
			priority_nutrition INTEGER NOT NULL DEFAULT 33,
			priority_delivery INTEGER NOT NULL DEFAULT 34,
			monthly_budget INTEGER NOT NULL DEFAULT 300000,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS meal_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			menu_name TEXT NOT NULL,
			calories INTEGER NOT NULL DEFAULT 0,
			cost INTEGER NOT NULL DEFAULT 0,
			meal_date DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_meal_records_user_date ON meal_records (user_id, meal_date)`,
		`CREATE TABLE IF NOT EXISTS liked_meals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			menu_name TEXT NOT NULL,
			calories INTEGER NOT NULL DEFAULT 0,
			price INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (user_id, menu_name)
		)`,
	},
}

// runMigrations creates missing tables and upgrades recommendation_cache rows written
// before the status, error_message and prompt_hash columns existed
func (db *DB) runMigrations() error {
	for _, stmt := range schema[db.Dialect] {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}

	legacyColumns := []struct {
		name       string
		definition map[Dialect]string
	}{
		{"status", map[Dialect]string{
			DialectMySQL:  "VARCHAR(20) NOT NULL DEFAULT 'pending'",
			DialectSQLite: "TEXT NOT NULL DEFAULT 'pending'",
		}},
		{"error_message", map[Dialect]string{
			DialectMySQL:  "TEXT NULL",
			DialectSQLite: "TEXT NULL",
		}},
		{"prompt_hash", map[Dialect]string{
			DialectMySQL:  "VARCHAR(64) NULL",
			DialectSQLite: "TEXT NULL",
		}},
	}

	for _, col := range legacyColumns {
		exists, err := db.columnExists("recommendation_cache", col.name)
		if err != nil {
			return fmt.Errorf("failed to inspect recommendation_cache.%s: %w", col.name, err)
		}
		if exists {
			continue
		}

		log.Printf("📦 Running migration: Adding %s to recommendation_cache table", col.name)
		stmt := fmt.Sprintf("ALTER TABLE recommendation_cache ADD COLUMN %s %s", col.name, col.definition[db.Dialect])
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to add %s to recommendation_cache: %w", col.name, err)
		}

		if col.name == "status" {
			// Rows that predate the status column and carry a payload are complete
			if _, err := db.Exec(`UPDATE recommendation_cache SET status = 'completed' WHERE recommendations IS NOT NULL`); err != nil {
				return fmt.Errorf("failed to backfill recommendation_cache.status: %w", err)
			}
		}
		log.Printf("✅ Migration completed: recommendation_cache.%s added", col.name)
	}

	log.Println("✅ All migrations completed")
	return nil
}

// columnExists checks the catalog of the current dialect for a column
func (db *DB) columnExists(tableName, columnName string) (bool, error) {
	var count int
	switch db.Dialect {
	case DialectMySQL:
		dbName := os.Getenv("MYSQL_DATABASE")
		if dbName == "" {
			dbName = "menurec"
		}
		err := db.QueryRow(`
			SELECT COUNT(*)
			FROM INFORMATION_SCHEMA.COLUMNS
			WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND COLUMN_NAME = ?
		`, dbName, tableName, columnName).Scan(&count)
		if err != nil {
			return false, err
		}
	default:
		err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, tableName, columnName).Scan(&count)
		if err != nil {
			return false, err
		}
	}
	return count > 0, nil
}
