package database

import (
	"fmt"
	"strings"

	"github.com/semmidev/dbguardian/internal/config"
	"github.com/semmidev/dbguardian/internal/domain"
)

// Resolver picks the dumper for a database name. Configured databases win;
// any other name is dumped from the server the metadata store lives on.
type Resolver struct {
	databases map[string]config.DatabaseConfig
	serverURL string
}

func NewResolver(databases []config.DatabaseConfig, serverURL string) *Resolver {
	byName := make(map[string]config.DatabaseConfig, len(databases))
	for _, db := range databases {
		byName[db.Name] = db
	}

	if !strings.HasPrefix(serverURL, "postgres://") && !strings.HasPrefix(serverURL, "postgresql://") {
		serverURL = ""
	}

	return &Resolver{databases: byName, serverURL: serverURL}
}

func (r *Resolver) Resolve(name string) (domain.Dumper, error) {
	if cfg, ok := r.databases[name]; ok {
		return New(cfg)
	}

	if r.serverURL == "" {
		return nil, fmt.Errorf("no database configured for %q", name)
	}
	return NewPostgreSQLFromURL(name, r.serverURL)
}

// New builds the dumper for one configured database.
func New(cfg config.DatabaseConfig) (domain.Dumper, error) {
	switch cfg.Type {
	case "postgresql", "postgres":
		return NewPostgreSQL(cfg), nil
	case "mysql", "mariadb":
		return NewMySQL(cfg), nil
	case "mongodb", "mongo":
		return NewMongoDB(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
}
