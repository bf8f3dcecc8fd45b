package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/smukkama/welfare-notifier/internal/models"
)

// ErrReminderLimit is returned when a recipient already has the maximum
// number of active reminders.
var ErrReminderLimit = fmt.Errorf("recipient already has %d active reminders", models.MaxActiveReminders)

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("not found")

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// Connect establishes a connection to the database
func Connect(connectionString string) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &DB{db}, nil
}

// RunMigrations executes all SQL migration files in order
func (db *DB) RunMigrations(migrationsDir string, logger *zap.Logger) error {
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, filename := range sqlFiles {
		content, err := os.ReadFile(filepath.Join(migrationsDir, filename))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
		logger.Info("Migration applied", zap.String("file", filename))
	}

	return nil
}

// ActiveRecipients returns every active recipient ordered by ID
func (db *DB) ActiveRecipients(ctx context.Context) ([]models.Recipient, error) {
	query := `
		SELECT id, name, phone_number, region, is_active
		FROM recipients
		WHERE is_active = TRUE
		ORDER BY id
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active recipients: %w", err)
	}
	defer rows.Close()

	var recipients []models.Recipient
	for rows.Next() {
		var r models.Recipient
		if err := rows.Scan(&r.ID, &r.Name, &r.PhoneNumber, &r.Region, &r.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan recipient: %w", err)
		}
		recipients = append(recipients, r)
	}

	return recipients, rows.Err()
}

// GetRecipient retrieves one recipient by ID
func (db *DB) GetRecipient(ctx context.Context, id int64) (*models.Recipient, error) {
	query := `
		SELECT id, name, phone_number, region, is_active
		FROM recipients
		WHERE id = $1
	`

	var r models.Recipient
	err := db.QueryRowContext(ctx, query, id).Scan(&r.ID, &r.Name, &r.PhoneNumber, &r.Region, &r.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("recipient %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recipient %d: %w", id, err)
	}

	return &r, nil
}

// CreateRecipient inserts a recipient and returns its ID
func (db *DB) CreateRecipient(ctx context.Context, r *models.Recipient) (int64, error) {
	query := `
		INSERT INTO recipients (name, phone_number, region, is_active)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	var id int64
	if err := db.QueryRowContext(ctx, query, r.Name, r.PhoneNumber, r.Region, r.IsActive).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to create recipient: %w", err)
	}
	r.ID = id
	return id, nil
}
