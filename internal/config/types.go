package config

import (
	"errors"
	"fmt"
	"hash/fnv"
	"net/url"
	"strings"
	"time"
)

// Config is the on-disk shape. Durations accept Go duration strings or
// whole seconds.
type Config struct {
	HTTP     HTTPConfig     `json:"http"`
	Provider ProviderConfig `json:"provider"`
	Delivery DeliveryConfig `json:"delivery"`
	Uploads  UploadsConfig  `json:"uploads"`
	Logging  LoggingConfig  `json:"logging"`
	Systemd  SystemdConfig  `json:"systemd,omitempty"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
	// BaseURL, when set, prefixes status URLs handed to clients. Otherwise
	// they are derived from the request.
	BaseURL        string      `json:"base_url,omitempty"`
	ReadTimeout    Duration    `json:"read_timeout,omitempty"`
	WriteTimeout   Duration    `json:"write_timeout,omitempty"`
	IdleTimeout    Duration    `json:"idle_timeout,omitempty"`
	MaxUploadBytes int64       `json:"max_upload_bytes,omitempty"`
	Pprof          PprofConfig `json:"pprof,omitempty"`
}

// PprofConfig mounts net/http/pprof on the HTTP listener. A non-empty token
// is required unless AllowInsecure is set.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Prefix        string `json:"prefix,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

type ProviderConfig struct {
	// Driver is "telegram" or "dryrun".
	Driver     string   `json:"driver"`
	APIURL     string   `json:"api_url,omitempty"`
	Timeout    Duration `json:"timeout,omitempty"`
	RatePerSec int      `json:"rate_per_sec,omitempty"`
}

type DeliveryConfig struct {
	// DefaultInterval is used when the form leaves interval empty. Both
	// fields must be whole seconds.
	DefaultInterval Duration `json:"default_interval,omitempty"`
	MaxInterval     Duration `json:"max_interval,omitempty"`
}

type UploadsConfig struct {
	Dir           string   `json:"dir"`
	MaxAge        Duration `json:"max_age,omitempty"`
	PruneSchedule string   `json:"prune_schedule,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type SystemdConfig struct {
	Notify bool `json:"notify"`
}

const (
	DriverTelegram = "telegram"
	DriverDryRun   = "dryrun"

	defaultAddr           = ":9000"
	defaultMaxUpload      = 10 << 20
	defaultIntervalSec    = 5
	defaultMaxIntervalSec = 3600
	defaultUploadsDir     = "uploads"
	defaultPprofPrefix    = "/debug/pprof"
)

// Runtime is Config with defaults applied and durations parsed.
type Runtime struct {
	Addr           string
	BaseURL        string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxUploadBytes int64
	Pprof          PprofConfig

	Driver          string
	APIURL          string
	ProviderTimeout time.Duration
	RatePerSec      int

	DefaultInterval time.Duration
	MaxInterval     time.Duration

	UploadsDir    string
	UploadsMaxAge time.Duration
	PruneSchedule string
}

// Resolve validates cfg and fills in defaults.
func (c *Config) Resolve() (Runtime, error) {
	if c == nil {
		return Runtime{}, errors.New("config is nil")
	}
	var (
		rt   Runtime
		errs []error
		err  error
	)

	rt.Addr = strings.TrimSpace(c.HTTP.Addr)
	if rt.Addr == "" {
		rt.Addr = defaultAddr
	}
	rt.BaseURL = strings.TrimRight(strings.TrimSpace(c.HTTP.BaseURL), "/")
	if rt.BaseURL != "" {
		if u, perr := url.Parse(rt.BaseURL); perr != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("http.base_url: must be an absolute URL, got %q", c.HTTP.BaseURL))
		}
	}
	if rt.ReadTimeout, err = c.HTTP.ReadTimeout.OrDefault("http.read_timeout", 30*time.Second); err != nil {
		errs = append(errs, err)
	}
	if rt.WriteTimeout, err = c.HTTP.WriteTimeout.OrDefault("http.write_timeout", 60*time.Second); err != nil {
		errs = append(errs, err)
	}
	if rt.IdleTimeout, err = c.HTTP.IdleTimeout.OrDefault("http.idle_timeout", 2*time.Minute); err != nil {
		errs = append(errs, err)
	}
	rt.MaxUploadBytes = c.HTTP.MaxUploadBytes
	switch {
	case rt.MaxUploadBytes < 0:
		errs = append(errs, errors.New("http.max_upload_bytes: must be >= 0"))
	case rt.MaxUploadBytes == 0:
		rt.MaxUploadBytes = defaultMaxUpload
	}
	rt.Pprof = c.HTTP.Pprof
	rt.Pprof.Prefix = "/" + strings.Trim(strings.TrimSpace(rt.Pprof.Prefix), "/")
	if rt.Pprof.Prefix == "/" {
		rt.Pprof.Prefix = defaultPprofPrefix
	}
	if rt.Pprof.Enabled && strings.TrimSpace(rt.Pprof.Token) == "" && !rt.Pprof.AllowInsecure {
		errs = append(errs, errors.New("http.pprof: token is required unless allow_insecure is set"))
	}

	rt.Driver = strings.ToLower(strings.TrimSpace(c.Provider.Driver))
	if rt.Driver == "" {
		rt.Driver = DriverTelegram
	}
	if rt.Driver != DriverTelegram && rt.Driver != DriverDryRun {
		errs = append(errs, fmt.Errorf("provider.driver: unknown driver %q", c.Provider.Driver))
	}
	rt.APIURL = strings.TrimSpace(c.Provider.APIURL)
	if rt.ProviderTimeout, err = c.Provider.Timeout.OrDefault("provider.timeout", 15*time.Second); err != nil {
		errs = append(errs, err)
	}
	rt.RatePerSec = c.Provider.RatePerSec
	if rt.RatePerSec < 0 {
		errs = append(errs, errors.New("provider.rate_per_sec: must be >= 0"))
	}

	def, derr := c.Delivery.DefaultInterval.Seconds("delivery.default_interval", defaultIntervalSec)
	if derr != nil {
		errs = append(errs, derr)
	}
	maxSec, merr := c.Delivery.MaxInterval.Seconds("delivery.max_interval", defaultMaxIntervalSec)
	if merr != nil {
		errs = append(errs, merr)
	}
	if maxSec == 0 {
		maxSec = defaultMaxIntervalSec
	}
	if derr == nil && merr == nil && def > maxSec {
		errs = append(errs, fmt.Errorf("delivery.default_interval: %ds exceeds max_interval %ds", def, maxSec))
	}
	rt.DefaultInterval = time.Duration(def) * time.Second
	rt.MaxInterval = time.Duration(maxSec) * time.Second

	rt.UploadsDir = strings.TrimSpace(c.Uploads.Dir)
	if rt.UploadsDir == "" {
		rt.UploadsDir = defaultUploadsDir
	}
	if rt.UploadsMaxAge, err = c.Uploads.MaxAge.Parse("uploads.max_age"); err != nil {
		errs = append(errs, err)
	}
	rt.PruneSchedule = strings.TrimSpace(c.Uploads.PruneSchedule)
	if rt.PruneSchedule == "" {
		rt.PruneSchedule = "@hourly"
	}

	if len(errs) > 0 {
		return Runtime{}, errors.Join(errs...)
	}
	return rt, nil
}

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
