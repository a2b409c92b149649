package resources

import "embed"

//go:embed migrations levels.yml
var FS embed.FS
