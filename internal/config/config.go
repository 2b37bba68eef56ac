// Package config handles configuration loading for the spatialscope server.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Data   DataConfig   `yaml:"data"`
	Cache  CacheConfig  `yaml:"cache"`
	Render RenderConfig `yaml:"render"`
	Viewer ViewerConfig `yaml:"viewer"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	Title       string   `yaml:"title"`
}

// DataConfig contains data source settings. Datasets maps a dataset id
// to a tabular cell file (CSV/TSV, optionally gzip or zstd compressed).
type DataConfig struct {
	Datasets       map[string]string `yaml:"datasets"`
	DefaultDataset string            `yaml:"default_dataset"`
}

// DatasetIDs returns the configured dataset ids, default first.
func (d DataConfig) DatasetIDs() []string {
	ids := make([]string, 0, len(d.Datasets))
	if _, ok := d.Datasets[d.DefaultDataset]; ok {
		ids = append(ids, d.DefaultDataset)
	}
	for id := range d.Datasets {
		if id != d.DefaultDataset {
			ids = append(ids, id)
		}
	}
	return ids
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	FrameSizeMB     int `yaml:"frame_size_mb"`
	FrameTTLMinutes int `yaml:"frame_ttl_minutes"`
	RangeCacheSize  int `yaml:"range_cache_size"`
}

// RenderConfig contains rendering settings.
type RenderConfig struct {
	PointRadiusMin float64 `yaml:"point_radius_min"`
	PointRadiusMax float64 `yaml:"point_radius_max"`
	LODThreshold   float64 `yaml:"lod_threshold"`
	LODMaxStride   int     `yaml:"lod_max_stride"`
	Colormap       string  `yaml:"colormap"`
}

// ViewerConfig contains per-session viewer settings.
type ViewerConfig struct {
	MinScale         float64 `yaml:"min_scale"`
	MaxScale         float64 `yaml:"max_scale"`
	FitFraction      float64 `yaml:"fit_fraction"`
	PickMargin       float64 `yaml:"pick_margin"`
	IndexKind        string  `yaml:"index_kind"`
	GridCellSize     float64 `yaml:"grid_cell_size"`
	QuadtreeLeafSize int     `yaml:"quadtree_leaf_size"`
	QuadtreeMaxDepth int     `yaml:"quadtree_max_depth"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Cache: CacheConfig{
			FrameSizeMB:     256,
			FrameTTLMinutes: 10,
			RangeCacheSize:  256,
		},
		Render: RenderConfig{
			PointRadiusMin: 1.5,
			PointRadiusMax: 8,
			LODThreshold:   160,
			LODMaxStride:   12,
			Colormap:       "expression",
		},
		Viewer: ViewerConfig{
			MinScale:    20,
			MaxScale:    20000,
			FitFraction: 0.44,
			PickMargin:  2,
			IndexKind:   "grid",
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Data.DefaultDataset == "" && len(cfg.Data.Datasets) > 0 {
		// Deterministic fallback: the lexicographically first id.
		for id := range cfg.Data.Datasets {
			if cfg.Data.DefaultDataset == "" || id < cfg.Data.DefaultDataset {
				cfg.Data.DefaultDataset = id
			}
		}
	}
	if cfg.Cache.FrameSizeMB == 0 {
		cfg.Cache.FrameSizeMB = defaults.Cache.FrameSizeMB
	}
	if cfg.Cache.FrameTTLMinutes == 0 {
		cfg.Cache.FrameTTLMinutes = defaults.Cache.FrameTTLMinutes
	}
	if cfg.Cache.RangeCacheSize == 0 {
		cfg.Cache.RangeCacheSize = defaults.Cache.RangeCacheSize
	}
	if cfg.Render.PointRadiusMin == 0 {
		cfg.Render.PointRadiusMin = defaults.Render.PointRadiusMin
	}
	if cfg.Render.PointRadiusMax == 0 {
		cfg.Render.PointRadiusMax = defaults.Render.PointRadiusMax
	}
	if cfg.Render.LODThreshold == 0 {
		cfg.Render.LODThreshold = defaults.Render.LODThreshold
	}
	if cfg.Render.LODMaxStride == 0 {
		cfg.Render.LODMaxStride = defaults.Render.LODMaxStride
	}
	if cfg.Render.Colormap == "" {
		cfg.Render.Colormap = defaults.Render.Colormap
	}
	if cfg.Viewer.MinScale == 0 {
		cfg.Viewer.MinScale = defaults.Viewer.MinScale
	}
	if cfg.Viewer.MaxScale == 0 {
		cfg.Viewer.MaxScale = defaults.Viewer.MaxScale
	}
	if cfg.Viewer.FitFraction == 0 {
		cfg.Viewer.FitFraction = defaults.Viewer.FitFraction
	}
	if cfg.Viewer.PickMargin == 0 {
		cfg.Viewer.PickMargin = defaults.Viewer.PickMargin
	}
	if cfg.Viewer.IndexKind == "" {
		cfg.Viewer.IndexKind = defaults.Viewer.IndexKind
	}
}
