package version

var (
	Version    = "0.1.0"
	APIVersion = "1.0"
	BuildTime  string
	GitCommit  string
	GoVersion  string
)

func GetVersion() string {
	return Version
}

func GetFullVersion() string {
	return Version
}

func GetUserAgent() string {
	return "endpoint-agent/" + Version
}
