package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Runtime is the validated, typed view of a Config that components consume.
type Runtime struct {
	Token        string
	OwnerUserIDs []int64
	GroupLogChat int64
	ReportChat   int64
	PollTimeout  time.Duration

	StoragePath string
	BusyTimeout time.Duration

	APIID        int
	APIHash      string
	DialTimeout  time.Duration
	JoinTimeout  time.Duration
	ExtractLimit int

	Capacity         int
	ReserveTarget    int
	JoinDelay        time.Duration
	FloodRetryMax    int
	FloodExtra       time.Duration
	FloodMaxWait     time.Duration
	MinCredentialLen int
	VerifyOnAdd      bool
	ProgressEvery    int
	ExportDir        string

	ScheduleEnabled bool
	Location        *time.Location
	AutoRun         string
	StatsReport     string

	NotifierEnabled bool
	NotifyRate      int
	NotifyQueue     int

	Ops OpsConfig
}

// Resolve applies defaults, parses durations and validates cfg. Errors name
// the offending field path.
func Resolve(cfg *Config) (Runtime, error) {
	if cfg == nil {
		return Runtime{}, errors.New("config is nil")
	}
	var (
		rt   Runtime
		errs []error
	)
	dur := func(path, raw string, def time.Duration) time.Duration {
		d, err := durationOr(path, raw, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}
	chat := func(path, raw string) int64 {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return 0
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid chat id %q", path, raw))
		}
		return id
	}

	// Telegram
	rt.Token = strings.TrimSpace(cfg.Telegram.Token)
	if rt.Token == "" {
		errs = append(errs, errors.New("telegram.token: required"))
	}
	rt.OwnerUserIDs = append([]int64(nil), cfg.Telegram.OwnerUserIDs...)
	if len(rt.OwnerUserIDs) == 0 {
		errs = append(errs, errors.New("telegram.owner_user_ids: at least one owner is required"))
	}
	rt.GroupLogChat = chat("telegram.group_log", cfg.Telegram.GroupLog)
	rt.ReportChat = chat("telegram.report_chat", cfg.Telegram.ReportChat)
	rt.PollTimeout = dur("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)

	// Storage
	rt.StoragePath = strings.TrimSpace(cfg.Storage.Path)
	if rt.StoragePath == "" {
		rt.StoragePath = "./joiner.db"
	}
	rt.BusyTimeout = dur("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)

	// Platform
	rt.APIID = cfg.Platform.APIID
	rt.APIHash = strings.TrimSpace(cfg.Platform.APIHash)
	if rt.APIID <= 0 {
		errs = append(errs, errors.New("platform.api_id: required"))
	}
	if rt.APIHash == "" {
		errs = append(errs, errors.New("platform.api_hash: required"))
	}
	rt.DialTimeout = dur("platform.dial_timeout", cfg.Platform.DialTimeout, 30*time.Second)
	rt.JoinTimeout = dur("platform.join_timeout", cfg.Platform.JoinTimeout, 30*time.Second)
	rt.ExtractLimit = cfg.Platform.ExtractLimit
	if rt.ExtractLimit < 0 {
		errs = append(errs, errors.New("platform.extract_limit: must be >= 0"))
	}

	// Joiner
	j := cfg.Joiner
	rt.Capacity = j.PerSessionCapacity
	if rt.Capacity == 0 {
		rt.Capacity = 1000
	}
	if rt.Capacity < 0 {
		errs = append(errs, errors.New("joiner.per_session_capacity: must be > 0"))
	}
	rt.ReserveTarget = 500
	if j.ReserveTarget != nil {
		rt.ReserveTarget = *j.ReserveTarget
	}
	if rt.ReserveTarget < 0 {
		errs = append(errs, errors.New("joiner.reserve_target: must be >= 0"))
	}
	// An explicit "0s" disables the delay.
	rt.JoinDelay = 60 * time.Second
	if strings.TrimSpace(j.JoinDelay) != "" {
		d, err := durationField("joiner.join_delay", j.JoinDelay)
		if err != nil {
			errs = append(errs, err)
		}
		rt.JoinDelay = d
	}
	rt.FloodRetryMax = 3
	if j.FloodRetryMax != nil {
		rt.FloodRetryMax = *j.FloodRetryMax
	}
	if rt.FloodRetryMax < 0 {
		errs = append(errs, errors.New("joiner.flood_retry_max: must be >= 0"))
	}
	rt.FloodExtra = dur("joiner.flood_extra", j.FloodExtra, 10*time.Second)
	rt.FloodMaxWait = dur("joiner.flood_max_wait", j.FloodMaxWait, time.Hour)
	rt.MinCredentialLen = j.MinCredentialLen
	if rt.MinCredentialLen <= 0 {
		rt.MinCredentialLen = 100
	}
	rt.VerifyOnAdd = j.VerifyOnAdd
	rt.ProgressEvery = j.ProgressEvery
	if rt.ProgressEvery <= 0 {
		rt.ProgressEvery = 20
	}
	rt.ExportDir = strings.TrimSpace(j.ExportDir)
	if rt.ExportDir == "" {
		rt.ExportDir = "./exports"
	}

	// Schedule
	s := cfg.Schedule
	rt.ScheduleEnabled = s.Enabled
	rt.AutoRun = strings.TrimSpace(s.AutoRun)
	rt.StatsReport = strings.TrimSpace(s.StatsReport)
	rt.Location = time.Local
	if tz := strings.TrimSpace(s.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			errs = append(errs, fmt.Errorf("schedule.timezone: %w", err))
		} else {
			rt.Location = loc
		}
	}

	// Notifier
	n := cfg.Notifier
	if n == nil {
		n = &NotifierConfig{Enabled: true}
	}
	rt.NotifierEnabled = n.Enabled
	rt.NotifyRate = n.RatePerSec
	if rt.NotifyRate <= 0 {
		rt.NotifyRate = 1
	}
	rt.NotifyQueue = n.QueueSize
	if rt.NotifyQueue <= 0 {
		rt.NotifyQueue = 64
	}

	// Ops
	rt.Ops = cfg.Ops
	rt.Ops.Addr = strings.TrimSpace(rt.Ops.Addr)
	if rt.Ops.Addr == "" {
		rt.Ops.Addr = "127.0.0.1:6060"
	}
	if rt.Ops.Enabled && !isLoopbackAddr(rt.Ops.Addr) && strings.TrimSpace(rt.Ops.Token) == "" && !rt.Ops.AllowInsecure {
		errs = append(errs, fmt.Errorf("ops.addr: %s is not loopback; set ops.token or ops.allow_insecure", rt.Ops.Addr))
	}

	return rt, errors.Join(errs...)
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
