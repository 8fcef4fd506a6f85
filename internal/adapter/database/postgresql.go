package database

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/semmidev/dbguardian/internal/config"
)

const defaultPostgresPort = 5432

type PostgreSQLDatabase struct {
	config config.DatabaseConfig
	bin    string
}

func NewPostgreSQL(cfg config.DatabaseConfig) *PostgreSQLDatabase {
	if cfg.Port == 0 {
		cfg.Port = defaultPostgresPort
	}
	if cfg.Database == "" {
		cfg.Database = cfg.Name
	}
	return &PostgreSQLDatabase{config: cfg, bin: "pg_dump"}
}

// NewPostgreSQLFromURL dumps database name on the server addressed by a
// postgres:// URL, replacing the URL's own database.
func NewPostgreSQLFromURL(name, rawURL string) (*PostgreSQLDatabase, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return nil, fmt.Errorf("unsupported database url scheme %q", u.Scheme)
	}

	cfg := config.DatabaseConfig{
		Name:     name,
		Type:     "postgresql",
		Host:     u.Hostname(),
		Database: name,
		SSLMode:  u.Query().Get("sslmode"),
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q", p)
		}
		cfg.Port = port
	}
	if u.User != nil {
		cfg.Username = u.User.Username()
		cfg.Password, _ = u.User.Password()
	}

	return NewPostgreSQL(cfg), nil
}

func (p *PostgreSQLDatabase) args(outputPath string) []string {
	return []string{
		fmt.Sprintf("--host=%s", p.config.Host),
		fmt.Sprintf("--port=%d", p.config.Port),
		fmt.Sprintf("--username=%s", p.config.Username),
		fmt.Sprintf("--dbname=%s", p.config.Database),
		fmt.Sprintf("--file=%s", outputPath),
		"--no-password",
		"--format=custom",
		"--compress=9",
		"--verbose",
	}
}

func (p *PostgreSQLDatabase) env() []string {
	env := []string{"PGPASSWORD=" + p.config.Password}
	if p.config.SSLMode != "" {
		env = append(env, "PGSSLMODE="+strings.ToLower(p.config.SSLMode))
	}
	return env
}

func (p *PostgreSQLDatabase) Dump(ctx context.Context, outputPath string) error {
	return run(ctx, "pg_dump", p.bin, p.args(outputPath), p.env()...)
}

func (p *PostgreSQLDatabase) GetName() string {
	return p.config.Name
}

func (p *PostgreSQLDatabase) GetType() string {
	return "postgresql"
}

func (p *PostgreSQLDatabase) Extension() string {
	return ".dump"
}
