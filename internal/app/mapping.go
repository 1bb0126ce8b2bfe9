package app

import (
	"fmt"

	"msgblast/internal/config"
	"msgblast/internal/housekeeping"
	"msgblast/internal/transport"
	"msgblast/internal/transport/dryrun"
	"msgblast/internal/transport/telegram"
	"msgblast/internal/web"
	logx "msgblast/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapWebConfig(rt config.Runtime) web.Config {
	return web.Config{
		Addr:            rt.Addr,
		BaseURL:         rt.BaseURL,
		ReadTimeout:     rt.ReadTimeout,
		WriteTimeout:    rt.WriteTimeout,
		IdleTimeout:     rt.IdleTimeout,
		MaxUploadBytes:  rt.MaxUploadBytes,
		UploadsDir:      rt.UploadsDir,
		DefaultInterval: rt.DefaultInterval,
		MaxInterval:     rt.MaxInterval,
		PprofEnabled:    rt.Pprof.Enabled,
		PprofPrefix:     rt.Pprof.Prefix,
		PprofToken:      rt.Pprof.Token,
	}
}

func mapHousekeepingConfig(rt config.Runtime) housekeeping.Config {
	return housekeeping.Config{
		Dir:      rt.UploadsDir,
		MaxAge:   rt.UploadsMaxAge,
		Schedule: rt.PruneSchedule,
	}
}

func mapTelegramConfig(rt config.Runtime) telegram.Config {
	return telegram.Config{
		APIURL:     rt.APIURL,
		Timeout:    rt.ProviderTimeout,
		RatePerSec: rt.RatePerSec,
	}
}

func newProvider(rt config.Runtime, log logx.Logger) (transport.Factory, error) {
	switch rt.Driver {
	case config.DriverTelegram:
		return telegram.NewFactory(mapTelegramConfig(rt), log), nil
	case config.DriverDryRun:
		return dryrun.NewFactory(log), nil
	default:
		return nil, fmt.Errorf("provider.driver: unknown driver %q", rt.Driver)
	}
}
