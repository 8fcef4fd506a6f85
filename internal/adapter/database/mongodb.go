package database

import (
	"context"
	"fmt"
	"net/url"

	"github.com/semmidev/dbguardian/internal/config"
)

type MongoDBDatabase struct {
	config config.DatabaseConfig
	bin    string
}

func NewMongoDB(cfg config.DatabaseConfig) *MongoDBDatabase {
	if cfg.Port == 0 {
		cfg.Port = 27017
	}
	if cfg.Database == "" {
		cfg.Database = cfg.Name
	}
	return &MongoDBDatabase{config: cfg, bin: "mongodump"}
}

func (m *MongoDBDatabase) uri() string {
	u := url.URL{
		Scheme: "mongodb",
		Host:   fmt.Sprintf("%s:%d", m.config.Host, m.config.Port),
		Path:   "/" + m.config.Database,
	}
	if m.config.Username != "" {
		u.User = url.UserPassword(m.config.Username, m.config.Password)
	}
	if m.config.AuthDatabase != "" {
		u.RawQuery = url.Values{"authSource": {m.config.AuthDatabase}}.Encode()
	}
	return u.String()
}

func (m *MongoDBDatabase) args(outputPath string) []string {
	return []string{
		fmt.Sprintf("--uri=%s", m.uri()),
		fmt.Sprintf("--archive=%s", outputPath),
		"--gzip",
	}
}

func (m *MongoDBDatabase) Dump(ctx context.Context, outputPath string) error {
	return run(ctx, "mongodump", m.bin, m.args(outputPath))
}

func (m *MongoDBDatabase) GetName() string {
	return m.config.Name
}

func (m *MongoDBDatabase) GetType() string {
	return "mongodb"
}

func (m *MongoDBDatabase) Extension() string {
	return ".archive"
}
