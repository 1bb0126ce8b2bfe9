package config

import (
	"sort"
	"strings"

	logx "msgblast/pkg/logx"
)

// SummarizeConfigChange lists the sections that differ and log fields
// describing the new values. Secrets (pprof token) are reported only as set
// or unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	o, n := oldCfg.HTTP, newCfg.HTTP
	tokenSet := func(p PprofConfig) bool { return strings.TrimSpace(p.Token) != "" }
	if o.Addr != n.Addr || o.BaseURL != n.BaseURL ||
		o.ReadTimeout != n.ReadTimeout || o.WriteTimeout != n.WriteTimeout || o.IdleTimeout != n.IdleTimeout ||
		o.MaxUploadBytes != n.MaxUploadBytes ||
		o.Pprof.Enabled != n.Pprof.Enabled || o.Pprof.Prefix != n.Pprof.Prefix ||
		o.Pprof.AllowInsecure != n.Pprof.AllowInsecure || o.Pprof.Token != n.Pprof.Token {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.String("http.addr", n.Addr),
			logx.String("http.base_url", n.BaseURL),
			logx.Int64("http.max_upload_bytes", n.MaxUploadBytes),
			logx.Bool("http.pprof.enabled", n.Pprof.Enabled),
			logx.Bool("http.pprof.token_set", tokenSet(n.Pprof)),
		)
	}

	if oldCfg.Provider != newCfg.Provider {
		changed = append(changed, "provider")
		attrs = append(attrs,
			logx.String("provider.driver", newCfg.Provider.Driver),
			logx.String("provider.timeout", string(newCfg.Provider.Timeout)),
			logx.Int("provider.rate_per_sec", newCfg.Provider.RatePerSec),
		)
	}

	if oldCfg.Delivery != newCfg.Delivery {
		changed = append(changed, "delivery")
		attrs = append(attrs,
			logx.String("delivery.default_interval", string(newCfg.Delivery.DefaultInterval)),
			logx.String("delivery.max_interval", string(newCfg.Delivery.MaxInterval)),
		)
	}

	if oldCfg.Uploads != newCfg.Uploads {
		changed = append(changed, "uploads")
		attrs = append(attrs,
			logx.String("uploads.dir", newCfg.Uploads.Dir),
			logx.String("uploads.max_age", string(newCfg.Uploads.MaxAge)),
			logx.String("uploads.prune_schedule", newCfg.Uploads.PruneSchedule),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
		attrs = append(attrs, logx.Bool("systemd.notify", newCfg.Systemd.Notify))
	}

	sort.Strings(changed)
	return changed, attrs
}
