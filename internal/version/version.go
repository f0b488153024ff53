package version

// Set at build time with -ldflags "-X github.com/amanthanvi/rollbook/internal/version.Version=...".
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)
