package version

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func Full() string {
	return Version + " (" + Commit + ") " + Date
}

func Short() string {
	return Version
}

// UserAgent is sent by every outbound HTTP client.
func UserAgent() string {
	return "multivec/" + Version
}
