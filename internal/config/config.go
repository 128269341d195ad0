package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full engine configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database" mapstructure:"database"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Raster    RasterConfig    `yaml:"raster" mapstructure:"raster"`
	Vector    VectorConfig    `yaml:"vector" mapstructure:"vector"`
	Basemap   BasemapConfig   `yaml:"basemap" mapstructure:"basemap"`
	TileCache TileCacheConfig `yaml:"tile_cache" mapstructure:"tile_cache"`
	WMS       WMSConfig       `yaml:"wms" mapstructure:"wms"`
	Alerts    AlertsConfig    `yaml:"alerts" mapstructure:"alerts"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// DatabaseConfig configures the PostGIS connection.
type DatabaseConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	BaseURL        string   `yaml:"base_url" mapstructure:"base_url"` // external URL prefix used in emitted tile templates
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// RasterConfig configures raster ingestion and serving.
type RasterConfig struct {
	DataDir          string `yaml:"data_dir" mapstructure:"data_dir"`
	UploadDir        string `yaml:"upload_dir" mapstructure:"upload_dir"`
	GDALTranslateBin string `yaml:"gdal_translate_bin" mapstructure:"gdal_translate_bin"`
	GDALInfoBin      string `yaml:"gdalinfo_bin" mapstructure:"gdalinfo_bin"`
}

// VectorConfig configures the vector import pipeline.
type VectorConfig struct {
	Schema     string `yaml:"schema" mapstructure:"schema"`
	Ogr2OgrBin string `yaml:"ogr2ogr_bin" mapstructure:"ogr2ogr_bin"`
	ScratchDir string `yaml:"scratch_dir" mapstructure:"scratch_dir"`
}

// BasemapConfig configures offline MBTiles basemap serving.
type BasemapConfig struct {
	ArchiveDir string `yaml:"archive_dir" mapstructure:"archive_dir"`
	StyleDir   string `yaml:"style_dir" mapstructure:"style_dir"`
}

// TileCacheConfig configures the tile cache backend.
type TileCacheConfig struct {
	Backend    string `yaml:"backend" mapstructure:"backend"` // "memory", "redis" or "off"
	MaxEntries int    `yaml:"max_entries" mapstructure:"max_entries"`
	TTLSecs    int    `yaml:"ttl_secs" mapstructure:"ttl_secs"`
	RedisAddr  string `yaml:"redis_addr" mapstructure:"redis_addr"`
}

// WMSConfig configures the upstream WMS proxy.
type WMSConfig struct {
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
}

// AlertsConfig points at the external alert collaborator merged into the
// mapviewer bootstrap config.
type AlertsConfig struct {
	LayerURL string `yaml:"layer_url" mapstructure:"layer_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/tile-engine")

	// Environment
	v.SetEnvPrefix("TILE_ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("raster.data_dir", "/var/lib/tile-engine/rasters")
	v.SetDefault("raster.upload_dir", "/var/lib/tile-engine/uploads")
	v.SetDefault("raster.gdal_translate_bin", "gdal_translate")
	v.SetDefault("raster.gdalinfo_bin", "gdalinfo")
	v.SetDefault("vector.schema", "vectordata")
	v.SetDefault("vector.ogr2ogr_bin", "ogr2ogr")
	v.SetDefault("vector.scratch_dir", "/tmp/tile-engine")
	v.SetDefault("basemap.archive_dir", "/var/lib/tile-engine/basemaps")
	v.SetDefault("basemap.style_dir", "/var/lib/tile-engine/styles")
	v.SetDefault("tile_cache.backend", "memory")
	v.SetDefault("tile_cache.max_entries", 4096)
	v.SetDefault("tile_cache.ttl_secs", 3600)
	v.SetDefault("wms.timeout_secs", 30)
	v.SetDefault("wms.rate_per_second", 10)

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional; env + defaults may be enough.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger builds a zap logger from the log config and installs it globally.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
