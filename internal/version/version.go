package version

// Set at build time via -ldflags "-X ...".
var (
	Version   = "dev"
	BuildDate = "unknown"
)
