package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadProcedures registers one procedure per NAME.sql file in dir. Statements
// are separated by semicolons at the end of a line; "--" comment lines are
// skipped.
func (d *SQLite) LoadProcedures(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return fmt.Errorf("database: list procedures in %s: %w", dir, err)
	}
	if len(files) == 0 {
		return fmt.Errorf("database: no procedure files in %s", dir)
	}

	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("database: read procedure %s: %w", path, err)
		}
		stmts := SplitStatements(string(data))
		if len(stmts) == 0 {
			return fmt.Errorf("database: procedure %s has no statements", path)
		}
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		d.RegisterProcedure(name, stmts...)
	}
	return nil
}

// SplitStatements splits a script into statements terminated by a semicolon
// at the end of a line.
func SplitStatements(script string) []string {
	var (
		stmts []string
		cur   strings.Builder
	)
	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		if strings.HasSuffix(trimmed, ";") {
			cur.WriteString(strings.TrimSuffix(trimmed, ";"))
			stmts = append(stmts, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteString(trimmed)
	}
	if rest := strings.TrimSpace(cur.String()); rest != "" {
		stmts = append(stmts, rest)
	}
	return stmts
}
