package database

import (
	"context"
	"fmt"

	"github.com/semmidev/dbguardian/internal/config"
)

type MySQLDatabase struct {
	config config.DatabaseConfig
	bin    string
}

func NewMySQL(cfg config.DatabaseConfig) *MySQLDatabase {
	if cfg.Port == 0 {
		cfg.Port = 3306
	}
	if cfg.Database == "" {
		cfg.Database = cfg.Name
	}
	return &MySQLDatabase{config: cfg, bin: "mysqldump"}
}

func (m *MySQLDatabase) args(outputPath string) []string {
	return []string{
		fmt.Sprintf("--host=%s", m.config.Host),
		fmt.Sprintf("--port=%d", m.config.Port),
		fmt.Sprintf("--user=%s", m.config.Username),
		"--single-transaction",
		"--quick",
		"--lock-tables=false",
		"--routines",
		"--triggers",
		"--events",
		fmt.Sprintf("--result-file=%s", outputPath),
		m.config.Database,
	}
}

// The password goes through MYSQL_PWD so it never shows up in ps output.
func (m *MySQLDatabase) Dump(ctx context.Context, outputPath string) error {
	return run(ctx, "mysqldump", m.bin, m.args(outputPath), "MYSQL_PWD="+m.config.Password)
}

func (m *MySQLDatabase) GetName() string {
	return m.config.Name
}

func (m *MySQLDatabase) GetType() string {
	return "mysql"
}

func (m *MySQLDatabase) Extension() string {
	return ".sql"
}
