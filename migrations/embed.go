// README: Embedded goose migrations applied at startup and by DB-backed tests.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
