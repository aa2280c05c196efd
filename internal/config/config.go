package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/imdario/mergo"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	AppName           = "dshackle"
	DefaultConfigPath = "./dshackle.yml"
	ConfigPathVar     = "DSHACKLE_CONFIG_PATH"
)

type AppConfig struct {
	ServerConfig   *ServerConfig   `yaml:"server"`
	UpstreamConfig *UpstreamConfig `yaml:"upstreams"`
	CacheConfig    *CacheConfig    `yaml:"cache"`
}

type ServerConfig struct {
	Port        int              `yaml:"port"`
	MetricsPort int              `yaml:"metrics-port"`
	PprofPort   int              `yaml:"pprof-port"`
	TlsConfig   *TlsConfig       `yaml:"tls"`
	Pyroscope   *PyroscopeConfig `yaml:"pyroscope"`
}

type TlsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Certificate string `yaml:"certificate"`
	Key         string `yaml:"key"`
	Ca          string `yaml:"ca"`
}

type PyroscopeConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Url      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

func (p *PyroscopeConfig) GetServerAddress() string  { return p.Url }
func (p *PyroscopeConfig) GetServerUsername() string { return p.Username }
func (p *PyroscopeConfig) GetServerPassword() string { return p.Password }

// UpstreamConfig is the upstream side of the config file: a default set of
// options that is mergo-merged into every upstream's own overrides, plus the
// upstream list itself.
type UpstreamConfig struct {
	Defaults  *UpstreamOptions `yaml:"defaults"`
	Upstreams []*Upstream      `yaml:"upstreams"`
}

type Upstream struct {
	Id           string            `yaml:"id"`
	ChainName    string            `yaml:"chain"`
	Role         string            `yaml:"role"`
	HttpUrl      string            `yaml:"http-url"`
	WsUrl        string            `yaml:"ws-url"`
	PeerUrl      string            `yaml:"peer-url"`
	Headers      map[string]string `yaml:"headers"`
	Labels       map[string]string `yaml:"labels"`
	PollInterval time.Duration     `yaml:"poll-interval"`
	Options      *UpstreamOptions  `yaml:"options"`
}

type UpstreamOptions struct {
	Methods              *MethodsConfig  `yaml:"methods"`
	FailsafeConfig       *FailsafeConfig `yaml:"failsafe"`
	HeadNoUpdatesTimeout time.Duration   `yaml:"head-no-updates-timeout"`
	// Priority breaks ties between upstreams FilteredApis would otherwise
	// treat as equivalent; higher values are preferred. NodeId and
	// ClientVersion are self-reported identity settings, not behavior
	// toggles - they flow straight through to Upstream.NodeId/ClientVersion.
	Priority      int    `yaml:"priority"`
	NodeId        byte   `yaml:"node-id"`
	ClientVersion string `yaml:"client-version"`
}

type MethodsConfig struct {
	EnableMethods  []string      `yaml:"enable"`
	DisableMethods []string      `yaml:"disable"`
	BanDuration    time.Duration `yaml:"ban-duration"`
}

type FailsafeConfig struct {
	HedgeConfig *HedgeConfig `yaml:"hedge"`
	RetryConfig *RetryConfig `yaml:"retry"`
}

type HedgeConfig struct {
	Delay time.Duration `yaml:"delay"`
	Count int           `yaml:"count"`
}

type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

// CacheConfig configures the optional CacheSink a Multistream publishes its
// aggregate head to.
type CacheConfig struct {
	Type string        `yaml:"type"`
	Ttl  time.Duration `yaml:"ttl"`
	Size int           `yaml:"size"`
	Redis *RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	Db       int    `yaml:"db"`
}

var defaultHedge = &HedgeConfig{
	Delay: 1 * time.Second,
	Count: 1,
}

func NewAppConfig() (*AppConfig, error) {
	configPath := os.Getenv(ConfigPathVar)
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	log.Debug().Msgf("reading the config file %s", configPath)

	file, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	appConfig := AppConfig{}
	if err = yaml.Unmarshal(file, &appConfig); err != nil {
		return nil, err
	}

	appConfig.setDefaults()
	if err = appConfig.validate(); err != nil {
		return nil, err
	}

	return &appConfig, nil
}

func (a *AppConfig) setDefaults() {
	if a.UpstreamConfig == nil {
		a.UpstreamConfig = &UpstreamConfig{}
	}
	if a.ServerConfig == nil {
		a.ServerConfig = &ServerConfig{Port: 9090}
	}
	a.UpstreamConfig.setDefaults()
}

func (u *UpstreamConfig) setDefaults() {
	if u.Defaults == nil {
		u.Defaults = &UpstreamOptions{}
	}
	if u.Defaults.FailsafeConfig == nil {
		u.Defaults.FailsafeConfig = &FailsafeConfig{HedgeConfig: defaultHedge}
	}
	if u.Defaults.HeadNoUpdatesTimeout == 0 {
		u.Defaults.HeadNoUpdatesTimeout = 2 * time.Minute
	}

	for _, upstream := range u.Upstreams {
		upstream.setDefaults(u.Defaults)
	}
}

// setDefaults merges the chain-wide defaults into this upstream's own
// options without clobbering anything the upstream already set explicitly.
func (u *Upstream) setDefaults(defaults *UpstreamOptions) {
	if u.Options == nil {
		u.Options = &UpstreamOptions{}
	}
	merged := *defaults
	if err := mergo.Merge(&merged, *u.Options, mergo.WithOverride); err != nil {
		log.Warn().Err(err).Msgf("unable to merge options for upstream %s", u.Id)
	} else {
		u.Options = &merged
	}
	if u.Options.Methods == nil {
		u.Options.Methods = &MethodsConfig{}
	}
	if u.PollInterval == 0 {
		u.PollInterval = 1 * time.Minute
	}
	if u.Role == "" {
		u.Role = "primary"
	}
}

func (a *AppConfig) validate() error {
	if err := a.ServerConfig.validate(); err != nil {
		return err
	}
	return a.UpstreamConfig.validate()
}

func (s *ServerConfig) validate() error {
	if s.Port < 0 {
		return fmt.Errorf("incorrect server port - %d", s.Port)
	}
	if s.MetricsPort < 0 {
		return fmt.Errorf("incorrect metrics port - %d", s.MetricsPort)
	}
	return nil
}

func (u *UpstreamConfig) validate() error {
	ids := mapset.NewThreadUnsafeSet[string]()
	for _, upstream := range u.Upstreams {
		if upstream.Id == "" {
			return errors.New("upstream id must not be empty")
		}
		if ids.Contains(upstream.Id) {
			return fmt.Errorf("upstream with id %s already exists", upstream.Id)
		}
		ids.Add(upstream.Id)
		if upstream.ChainName == "" {
			return fmt.Errorf("upstream %s has no chain set", upstream.Id)
		}
		if upstream.HttpUrl == "" && upstream.WsUrl == "" && upstream.PeerUrl == "" {
			return fmt.Errorf("upstream %s has no http-url, ws-url or peer-url set", upstream.Id)
		}
	}
	return nil
}
