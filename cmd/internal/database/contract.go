package database

import "context"

type DatabaseExporter interface {
	// ExportDatabase dumps the database of the website into targetDir and returns the path of the dump.
	ExportDatabase(ctx context.Context, website, targetDir string) (string, error)
}

type DatabaseImporter interface {
	// ImportDatabase imports the dump into the database of the website.
	//
	// With reset the database is dropped and created again before the import.
	ImportDatabase(ctx context.Context, website, dumpFile string, reset bool) error
}

type DatabaseProber interface {
	// Probe returns nil when the database server accepts connections.
	Probe(ctx context.Context) error
}

type Database interface {
	DatabaseExporter
	DatabaseImporter
	DatabaseProber
}
