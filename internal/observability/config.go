package observability

import "github.com/pedifacil/billing/internal/config"

// Config is the observability slice of the app configuration.
type Config struct {
	ServiceName string
	Environment string
	Version     string
	LogLevel    string

	OtelEnabled          bool
	OtelExporterEndpoint string
}

func LoadConfig(appCfg config.Config) Config {
	return Config{
		ServiceName:          appCfg.AppName,
		Environment:          appCfg.Environment,
		Version:              appCfg.AppVersion,
		LogLevel:             appCfg.LogLevel,
		OtelEnabled:          appCfg.OtelEnabled,
		OtelExporterEndpoint: appCfg.OTLPEndpoint,
	}
}

func (c Config) Debug() bool {
	return c.Environment != "production"
}
