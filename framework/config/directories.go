package config

// DefaultStateDirectoryHint is the fallback path used when neither
// -state-dir nor StateDirectory has been set.
const DefaultStateDirectoryHint = "/var/lib/madkernel"

var (
	// StateDirectory holds the path used to store data that must survive
	// across restarts (the oauth_key file). Set once by cmd/madkerneld at
	// startup; must not change afterward.
	StateDirectory string

	// RuntimeDirectory holds the path for transient, non-persisted state
	// (unix sockets, pid files). Preferred over os.TempDir so the kernel
	// does not leak paths into a world-readable location.
	RuntimeDirectory string
)
