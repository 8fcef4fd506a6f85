package domain

import "context"

// Dumper produces a dump of one database with its native tool.
type Dumper interface {
	Dump(ctx context.Context, outputPath string) error
	GetName() string
	GetType() string
	// Extension is the file suffix of the dump format, e.g. ".dump".
	Extension() string
}

type DumperResolver interface {
	Resolve(databaseName string) (Dumper, error)
}
