package config

// Config is the on-disk configuration (JSON or YAML). Durations are Go
// duration strings (e.g. "500ms", "10s", "1m") and are parsed by Resolve.
type Config struct {
	Telegram TelegramConfig  `json:"telegram"`
	Logging  LoggingConfig   `json:"logging"`
	Storage  StorageConfig   `json:"storage"`
	Platform PlatformConfig  `json:"platform"`
	Joiner   JoinerConfig    `json:"joiner"`
	Schedule ScheduleConfig  `json:"schedule"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Ops      OpsConfig       `json:"ops,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the chat id receiving warning and error logs.
	GroupLog string `json:"group_log"`
	// ReportChat is the chat id receiving cycle reports. Empty sends them to
	// every owner.
	ReportChat string `json:"report_chat,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig locates the SQLite work store.
//
// Example:
//
//	"storage": { "path": "./joiner.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// PlatformConfig holds the MTProto application credentials from
// my.telegram.org and the limits applied to every session call.
type PlatformConfig struct {
	APIID       int    `json:"api_id"`
	APIHash     string `json:"api_hash"`
	DialTimeout string `json:"dial_timeout,omitempty"`
	JoinTimeout string `json:"join_timeout,omitempty"`
	// ExtractLimit is how many recent messages a harvest reads per source.
	// 0 reads the whole history.
	ExtractLimit int `json:"extract_limit,omitempty"`
}

// JoinerConfig controls distribution and join cycles.
//
// Defaults (when fields are omitted/zero):
//   - per_session_capacity: 1000
//   - reserve_target: 500
//   - join_delay: "60s"
//   - flood_retry_max: 3
//   - flood_extra: "10s"
//   - flood_max_wait: "1h"
//   - min_credential_len: 100
//   - progress_every: 20
//   - export_dir: "./exports"
type JoinerConfig struct {
	PerSessionCapacity int `json:"per_session_capacity,omitempty"`
	// ReserveTarget is a pointer so an explicit 0 can be told from omitted.
	ReserveTarget    *int   `json:"reserve_target,omitempty"`
	JoinDelay        string `json:"join_delay,omitempty"`
	FloodRetryMax    *int   `json:"flood_retry_max,omitempty"`
	FloodExtra       string `json:"flood_extra,omitempty"`
	FloodMaxWait     string `json:"flood_max_wait,omitempty"`
	MinCredentialLen int    `json:"min_credential_len,omitempty"`
	// VerifyOnAdd logs the session in before storing it.
	VerifyOnAdd   bool   `json:"verify_on_add"`
	ProgressEvery int    `json:"progress_every,omitempty"`
	ExportDir     string `json:"export_dir,omitempty"`
}

// ScheduleConfig controls cron triggers. Specs accept 5-field cron,
// "@every 6h" style descriptors, or a bare Go duration.
type ScheduleConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
	// AutoRun starts a join cycle on this schedule. Empty disables it.
	AutoRun string `json:"auto_run,omitempty"`
	// StatsReport sends the stats view to the report chat. Empty disables it.
	StatsReport string `json:"stats_report,omitempty"`
}

// NotifierConfig controls operator reports. If the whole section is omitted,
// the notifier defaults to enabled=true.
type NotifierConfig struct {
	Enabled    bool `json:"enabled"`
	RatePerSec int  `json:"rate_per_sec"`
	QueueSize  int  `json:"queue_size"`
}

// OpsConfig controls the optional HTTP endpoint serving /metrics, /healthz
// and pprof.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}
