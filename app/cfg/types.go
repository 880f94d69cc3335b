package cfg

type Cfg struct {
	// HTTP server configuration
	Port    string
	BaseUrl string

	// Upstream CMS configuration
	UpstreamUrl   string
	UpstreamToken string

	// Security configuration
	InvalidationSecret string
	DiagnosticsToken   string
	RateLimitWindow    int // seconds
	RateLimitMax       int

	// Application configuration
	FeedsDir          string
	DBPath            string
	WorkerCount       int
	SchedulerInterval int
	DiagRingSize      int

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
