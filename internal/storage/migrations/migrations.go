package migrations

import (
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"
)

// ledgerTable records applied migration files in each database.
const ledgerTable = "schema_migrations"

// sqlFiles lists the .sql files of dir in lexical order.
func sqlFiles(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read embedded %s migrations: %w", dir, err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// pending returns the files not yet in applied, keeping their order.
func pending(files []string, applied map[string]bool) []string {
	var out []string
	for _, f := range files {
		if !applied[f] {
			out = append(out, f)
		}
	}
	return out
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validIdentifier reports whether name can be used unquoted as a database name.
func validIdentifier(name string) bool {
	return identifier.MatchString(name)
}
