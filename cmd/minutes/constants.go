package main

// Default limits for CLI commands.
const (
	DefaultEntitiesLimit = 100
	DefaultSearchLimit   = 25
)

// Valid export formats.
var validFormats = []string{"json", "csv", "markdown"}
