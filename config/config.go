// Package config reads the options for the pcloud-events commands
//
// Options are taken from, in increasing order of precedence, the
// defaults, a YAML config file, PCLOUD_* environment variables and
// command line flags.
package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/pcloudkit/pcloud"
	"github.com/pcloudkit/pcloud/events"
	"github.com/pcloudkit/pcloud/lib/fshttp"
	"github.com/pcloudkit/pcloud/lib/log"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"
)

// EnvPrefix starts the name of every environment variable read
const EnvPrefix = "PCLOUD_"

// Options for the commands
type Options struct {
	ConfigFile     string        `yaml:"-"`
	Hostname       string        `yaml:"hostname"`
	AccessToken    string        `yaml:"access_token"`
	AuthToken      string        `yaml:"auth_token"`
	Logout         bool          `yaml:"logout"`
	NoServerLookup bool          `yaml:"no_server_lookup"`
	Retries        int           `yaml:"low_level_retries"`
	StateFile      string        `yaml:"state_file"`
	LogLevel       log.Level     `yaml:"log_level"`
	UseJSONLog     bool          `yaml:"use_json_log"`
	ConnectTimeout time.Duration `yaml:"contimeout"`
	Timeout        time.Duration `yaml:"timeout"`
	TPSLimit       float64       `yaml:"tpslimit"`
	TPSLimitBurst  int           `yaml:"tpslimit_burst"`
	UserAgent      string        `yaml:"user_agent"`
	DumpHTTP       bool          `yaml:"dump_http"`
	BlockTimeout   time.Duration `yaml:"block_timeout"`
	Limit          uint64        `yaml:"limit"`
	MetricsAddr    string        `yaml:"metrics_addr"`
}

// configDir returns the directory holding the config and state files
func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "pcloud-events")
	}
	home, err := homedir.Dir()
	if err != nil {
		log.Debugf(nil, "Couldn't find home directory: %v", err)
		return ".pcloud-events"
	}
	return filepath.Join(home, ".config", "pcloud-events")
}

// DefaultOptions returns the options before any file, environment or
// flag is read
func DefaultOptions() Options {
	httpOpt := fshttp.DefaultOptions()
	dir := configDir()
	return Options{
		ConfigFile:     filepath.Join(dir, "config.yaml"),
		Hostname:       pcloud.DefaultHostname,
		StateFile:      filepath.Join(dir, "state.db"),
		LogLevel:       log.LevelNotice,
		Retries:        10,
		ConnectTimeout: httpOpt.ConnectTimeout,
		TPSLimitBurst:  httpOpt.TPSLimitBurst,
		UserAgent:      "pcloud-events/" + pcloud.Version,
		BlockTimeout:   time.Minute,
	}
}

// OptionToEnv converts a flag name to the environment variable
// which sets it, eg "block-timeout" to "PCLOUD_BLOCK_TIMEOUT"
func OptionToEnv(name string) string {
	return EnvPrefix + strings.ToUpper(strings.Replace(name, "-", "_", -1))
}

// AddFlags binds the options to flags in flagSet
func (o *Options) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&o.ConfigFile, "config", "", o.ConfigFile, "Config file")
	flagSet.StringVarP(&o.Hostname, "hostname", "", o.Hostname, "API host, eapi.pcloud.com for EU accounts")
	flagSet.StringVarP(&o.AccessToken, "access-token", "", o.AccessToken, "OAuth2 access token")
	flagSet.StringVarP(&o.AuthToken, "auth-token", "", o.AuthToken, "Session auth token")
	flagSet.BoolVarP(&o.Logout, "logout", "", o.Logout, "Revoke the session auth token on exit")
	flagSet.BoolVarP(&o.NoServerLookup, "no-server-lookup", "", o.NoServerLookup, "Don't look up the nearest API server")
	flagSet.IntVarP(&o.Retries, "low-level-retries", "", o.Retries, "Number of tries of each API call")
	flagSet.StringVarP(&o.StateFile, "state-file", "", o.StateFile, "Database storing stream cursors")
	flagSet.VarP(&o.LogLevel, "log-level", "", "Log level DEBUG|INFO|NOTICE|ERROR")
	flagSet.BoolVarP(&o.UseJSONLog, "use-json-log", "", o.UseJSONLog, "Use json log format")
	flagSet.DurationVarP(&o.ConnectTimeout, "contimeout", "", o.ConnectTimeout, "Connect timeout")
	flagSet.DurationVarP(&o.Timeout, "timeout", "", o.Timeout, "Response header timeout, 0 for none, keep above --block-timeout")
	flagSet.Float64VarP(&o.TPSLimit, "tpslimit", "", o.TPSLimit, "Limit HTTP transactions per second to this")
	flagSet.IntVarP(&o.TPSLimitBurst, "tpslimit-burst", "", o.TPSLimitBurst, "Max burst of transactions for --tpslimit")
	flagSet.StringVarP(&o.UserAgent, "user-agent", "", o.UserAgent, "Set the user-agent to a specified string")
	flagSet.BoolVarP(&o.DumpHTTP, "dump-http", "", o.DumpHTTP, "Dump HTTP headers at debug level, auth masked")
	flagSet.DurationVarP(&o.BlockTimeout, "block-timeout", "", o.BlockTimeout, "Longest wait for a single /diff call")
	flagSet.Uint64VarP(&o.Limit, "limit", "", o.Limit, "Max events per /diff call, 0 for the server default")
	flagSet.StringVarP(&o.MetricsAddr, "metrics-addr", "", o.MetricsAddr, "Serve prometheus metrics on this address, eg :9100")
}

// Load reads the YAML file at path into o.  A missing file is not an
// error unless required is set.
func (o *Options) Load(path string, required bool) error {
	data, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) && !required {
		log.Debugf(nil, "No config file %q", path)
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to read config")
	}
	if err := yaml.UnmarshalStrict(data, o); err != nil {
		return errors.Wrapf(err, "failed to parse config %q", path)
	}
	return nil
}

// Resolve fills o after the command line has been parsed into
// flagSet, whose flags must be bound to o by AddFlags.
//
// The config file is read, then environment variables are applied to
// flags not given on the command line.
func (o *Options) Resolve(flagSet *pflag.FlagSet) error {
	// Remember what was set on the command line as the file may
	// overwrite it
	changed := map[string]string{}
	flagSet.VisitAll(func(flag *pflag.Flag) {
		if flag.Changed {
			changed[flag.Name] = flag.Value.String()
		}
	})
	path := o.ConfigFile
	_, required := changed["config"]
	if envPath, found := os.LookupEnv(OptionToEnv("config")); found && !required {
		path, required = envPath, true
	}
	if err := o.Load(path, required); err != nil {
		return err
	}
	o.ConfigFile = path

	var err error
	flagSet.VisitAll(func(flag *pflag.Flag) {
		if err != nil || flag.Name == "config" {
			return
		}
		if value, found := changed[flag.Name]; found {
			err = flagSet.Set(flag.Name, value)
			return
		}
		envKey := OptionToEnv(flag.Name)
		if value, found := os.LookupEnv(envKey); found {
			log.Debugf(nil, "Setting --%s from environment variable %s", flag.Name, envKey)
			if setErr := flagSet.Set(flag.Name, value); setErr != nil {
				err = errors.Wrapf(setErr, "invalid value for environment variable %s", envKey)
			}
		}
	})
	return err
}

// ClientOptions returns the options for pcloud.New
func (o *Options) ClientOptions(metrics *fshttp.Metrics) pcloud.Options {
	return pcloud.Options{
		Hostname:       o.Hostname,
		AccessToken:    o.AccessToken,
		AuthToken:      o.AuthToken,
		Logout:         o.Logout,
		NoServerLookup: o.NoServerLookup,
		Retries:        o.Retries,
		HTTP: fshttp.Options{
			ConnectTimeout: o.ConnectTimeout,
			Timeout:        o.Timeout,
			UserAgent:      o.UserAgent,
			TPSLimit:       o.TPSLimit,
			TPSLimitBurst:  o.TPSLimitBurst,
			Dump:           o.DumpHTTP,
			Metrics:        metrics,
		},
	}
}

// Validate checks the options are usable
func (o *Options) Validate() error {
	if o.AccessToken == "" && o.AuthToken == "" {
		return errors.Errorf("need an access token or auth token, set --access-token or %s", OptionToEnv("access-token"))
	}
	if o.Timeout > 0 && o.BlockTimeout > 0 && o.Timeout <= o.BlockTimeout {
		return errors.Errorf("--timeout %v would cut off blocking calls, make it longer than --block-timeout %v or 0", o.Timeout, o.BlockTimeout)
	}
	if o.Limit > events.MaxQueueSize {
		return errors.Errorf("--limit %d is too big, the most is %d", o.Limit, uint64(events.MaxQueueSize))
	}
	return nil
}
