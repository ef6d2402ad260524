package dms

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var versionFile string

// Version is the current version of the DMS service.
var Version = strings.TrimSpace(versionFile)
