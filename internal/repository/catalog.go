package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/fjod/go_cellar/internal/domain"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteCatalog resolves product snapshots from a sqlite database.
type SQLiteCatalog struct {
	db *sql.DB
}

func NewSQLiteCatalog(dbPath string) (*SQLiteCatalog, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// ":memory:" databases exist per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &SQLiteCatalog{db: db}, nil
}

// OpenCatalog opens the catalog at dbPath and applies pending migrations.
func OpenCatalog(dbPath string) (*SQLiteCatalog, error) {
	c, err := NewSQLiteCatalog(dbPath)
	if err != nil {
		return nil, err
	}
	if err := c.RunMigrations(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// RunMigrations applies the embedded schema and seed migrations.
func (c *SQLiteCatalog) RunMigrations() error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("could not read migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(c.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

func (c *SQLiteCatalog) Product(ctx context.Context, productID int64) (domain.Product, error) {
	query := `
		SELECT id, name, sale_price, image_url, category
		FROM products
		WHERE id = ?
	`
	var p domain.Product
	err := c.db.QueryRowContext(ctx, query, productID).Scan(&p.ID, &p.Name, &p.SalePrice, &p.ImageURL, &p.Category)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, ErrProductNotFound
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("failed to query product: %w", err)
	}
	return p, nil
}

func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}
