// Package migrations embeds the SQL schema so the migrate command and the
// integration tests apply the same files.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// InitialSchema returns the contents of the first up migration
func InitialSchema() (string, error) {
	b, err := FS.ReadFile("000001_initial_schema.up.sql")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
