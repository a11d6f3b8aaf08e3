package appfs

import "embed"

// FS holds the assets shipped inside the binaries: email templates and database migrations.
//go:embed templates/email/* migrations/*.sql
var FS embed.FS
