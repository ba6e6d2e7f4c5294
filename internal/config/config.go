package config

import (
	"sync"

	"raygate/pkg/logger"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env    string        `yaml:"env" env:"APP_ENV" env-default:"production" env-description:"Environment [production, local, sandbox]"`
	Logger logger.Config `yaml:"logger"`
	API    API           `yaml:"api"`
	Engine Engine        `yaml:"engine"`
	Debug  bool          `yaml:"debug" env:"APP_DEBUG" env-default:"false" env-description:"Enables debug mode"`
}

type API struct {
	ListenAddr string `yaml:"listen_addr" env:"API_LISTEN_ADDR" env-default:"127.0.0.1:18789" env-description:"Loopback address for the ops API"`
}

type Engine struct {
	ProbeURL       string `yaml:"probe_url" env:"ENGINE_PROBE_URL" env-default:"http://gstatic.com/generate_204" env-description:"Connectivity probe endpoint"`
	ProbeTimeoutS  int    `yaml:"probe_timeout_s" env:"ENGINE_PROBE_TIMEOUT" env-default:"5" env-description:"Per-server probe timeout in seconds"`
	FetchTimeoutS  int    `yaml:"fetch_timeout_s" env:"ENGINE_FETCH_TIMEOUT" env-default:"30" env-description:"Subscription fetch timeout in seconds"`
	DefaultBinary  string `yaml:"default_binary" env:"ENGINE_DEFAULT_BINARY" env-description:"Engine binary path when settings and PATH yield nothing"`
	MaxTestWorkers int    `yaml:"max_test_workers" env:"ENGINE_MAX_TEST_WORKERS" env-default:"8" env-description:"Upper bound on concurrent connectivity tests"`
}

var (
	once   = sync.Once{}
	cfg    = &Config{}
	errCfg error
)

func New(configPath string, skipConfig bool) (*Config, error) {
	once.Do(func() {
		cfg = &Config{}

		if skipConfig {
			errCfg = cleanenv.ReadEnv(cfg)
			return
		}

		errCfg = cleanenv.ReadConfig(configPath, cfg)
	})

	return cfg, errCfg
}
