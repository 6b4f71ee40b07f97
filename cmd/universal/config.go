package main

import (
	"io"
	"os"
	"path/filepath"

	units "github.com/docker/go-units"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wasmforge/universal"
	"github.com/wasmforge/universal/cache"
	"github.com/wasmforge/universal/wasm"
)

const (
	flagConfig       = "config"
	flagPoolBudget   = "pool-budget"
	flagPageSize     = "page-size"
	flagLogLevel     = "log-level"
	flagCacheDir     = "cache-dir"
	flagCacheBackend = "cache-backend"
	flagFeatures     = "features"
)

// fileConfig is the TOML configuration file. Flags set on the command line take precedence.
type fileConfig struct {
	PoolBudget   string `toml:"pool_budget"`
	PageSize     string `toml:"page_size"`
	LogLevel     string `toml:"log_level"`
	CacheDir     string `toml:"cache_dir"`
	CacheBackend string `toml:"cache_backend"`
	Features     string `toml:"features"`
}

type flagOptions struct {
	configFile string
	fileConfig
}

func (o *flagOptions) install(flags *pflag.FlagSet) {
	flags.StringVar(&o.configFile, flagConfig, "", "TOML configuration file")
	flags.StringVar(&o.PoolBudget, flagPoolBudget, "1GiB", "Code memory budget, such as 512MiB")
	flags.StringVar(&o.PageSize, flagPageSize, "", "Layout page size, a multiple of the host page size")
	flags.StringVar(&o.LogLevel, flagLogLevel, "warn", "Log level (debug, info, warn, error)")
	flags.StringVar(&o.CacheDir, flagCacheDir, "", "Directory caching compiled modules")
	flags.StringVar(&o.CacheBackend, flagCacheBackend, "file", "Cache backend (file, bolt)")
	flags.StringVar(&o.Features, flagFeatures, "1.0", "WebAssembly features (1.0, 2.0)")
}

// parseConfigFile reads the TOML file at path.
func parseConfigFile(path string) (fileConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err = toml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse %s", path)
	}
	return cfg, nil
}

// merge returns the file values overridden by every flag changed on the command line.
func (o *flagOptions) merge(file fileConfig, flags *pflag.FlagSet) fileConfig {
	ret := o.fileConfig
	for _, f := range []struct {
		name      string
		dst, file *string
	}{
		{flagPoolBudget, &ret.PoolBudget, &file.PoolBudget},
		{flagPageSize, &ret.PageSize, &file.PageSize},
		{flagLogLevel, &ret.LogLevel, &file.LogLevel},
		{flagCacheDir, &ret.CacheDir, &file.CacheDir},
		{flagCacheBackend, &ret.CacheBackend, &file.CacheBackend},
		{flagFeatures, &ret.Features, &file.Features},
	} {
		if !flags.Changed(f.name) && *f.file != "" {
			*f.dst = *f.file
		}
	}
	return ret
}

func (c *cli) setup(flags *pflag.FlagSet) error {
	var file fileConfig
	if c.flags.configFile != "" {
		var err error
		if file, err = parseConfigFile(c.flags.configFile); err != nil {
			return err
		}
	}
	c.config = c.flags.merge(file, flags)

	logger, err := newLogger(c.config.LogLevel, c.stderr)
	if err != nil {
		return err
	}
	c.logger = logger

	cfg, err := c.config.engineConfig()
	if err != nil {
		return err
	}
	c.engine = universal.NewEngine(cfg.WithLogger(logger))

	c.cache, err = c.config.openCache()
	return err
}

func newLogger(level string, w io.Writer) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrap(err, "invalid log level")
	}
	enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), lvl)), nil
}

func (f fileConfig) engineConfig() (*universal.EngineConfig, error) {
	cfg := universal.NewEngineConfig()

	budget, err := units.RAMInBytes(f.PoolBudget)
	if err != nil {
		return nil, errors.Wrap(err, "invalid pool budget")
	}
	cfg = cfg.WithMemoryPoolBudget(int(budget))

	if f.PageSize != "" {
		size, err := units.RAMInBytes(f.PageSize)
		if err != nil {
			return nil, errors.Wrap(err, "invalid page size")
		}
		cfg = cfg.WithPageSize(int(size))
	}

	switch f.Features {
	case "", "1.0":
		cfg = cfg.WithFeatures(wasm.Features20191205)
	case "2.0":
		cfg = cfg.WithFeatures(wasm.Features20220419)
	default:
		return nil, errors.Errorf("invalid features %q, expected 1.0 or 2.0", f.Features)
	}
	return cfg, nil
}

// openCache returns nil when no cache directory is configured.
func (f fileConfig) openCache() (cache.Cache, error) {
	if f.CacheDir == "" {
		return nil, nil
	}
	switch f.CacheBackend {
	case "", "file":
		fc, err := cache.NewFileCache(f.CacheDir)
		if err != nil {
			return nil, err
		}
		return fc, nil
	case "bolt":
		if err := os.MkdirAll(f.CacheDir, 0o700); err != nil {
			return nil, err
		}
		bc, err := cache.OpenBoltCache(filepath.Join(f.CacheDir, "executables.db"))
		if err != nil {
			return nil, err
		}
		return bc, nil
	default:
		return nil, errors.Errorf("invalid cache backend %q, expected file or bolt", f.CacheBackend)
	}
}
