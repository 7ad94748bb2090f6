// Package migrations embeds the Postgres schema used by the record store and
// the remote attachment backend.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

// FS holds the golang-migrate style up/down files.
//
//go:embed *.sql
var FS embed.FS

// RequiredTables lists the tables the application expects to exist.
var RequiredTables = []string{"users", "conversations", "messages", "attachments"}

// UpSQL concatenates every up migration in order. It is printed when the
// schema probe fails so an operator can apply it by hand.
func UpSQL() (string, error) {
	entries, err := fs.Glob(FS, "*.up.sql")
	if err != nil {
		return "", err
	}
	sort.Strings(entries)

	var b strings.Builder
	for _, name := range entries {
		raw, err := FS.ReadFile(name)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", name, err)
		}
		b.WriteString("-- ")
		b.WriteString(name)
		b.WriteString("\n")
		b.Write(raw)
		b.WriteString("\n")
	}
	return b.String(), nil
}
