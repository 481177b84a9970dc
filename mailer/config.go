package mailer

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	envPrefix           = "MAIL"
	envSendGridAPIKey   = "SENDGRID_API_KEY"
	keySendGridAPIKey   = "services.sendgrid.api_key"
	keyDefault          = "default"
	keyFrom             = "from"
	defaultMailerName   = "default"
	defaultTransportLog = "log"
)

// Config selects the mailers an application can send through and the
// provider credentials their transports need.
type Config struct {
	// Name of the mailer used when none is requested.
	Default string `mapstructure:"default"`
	// Global fallback From address.
	From    string                  `mapstructure:"from"`
	Mailers map[string]MailerConfig `mapstructure:"mailers"`
	// Provider sections keyed by service name, e.g. services.sendgrid.api_key.
	Services map[string]map[string]any `mapstructure:"services"`
}

// MailerConfig describes one named mailer.
type MailerConfig struct {
	Transport string `mapstructure:"transport"`
	From      string `mapstructure:"from"`
	// Transport specific options. The sendgrid transport merges these into
	// every request payload.
	Options map[string]any `mapstructure:"options"`
}

// LoadConfig reads a YAML, JSON or TOML file and applies environment
// overrides. An empty path only reads the environment.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read mail config %s: %w", path, err)
		}
	}
	return ConfigFromViper(v)
}

// ConfigFromViper decodes a Config from an already populated viper
// instance, binding the MAIL_* and SENDGRID_API_KEY environment variables.
func ConfigFromViper(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault(keyDefault, defaultMailerName)

	if err := v.BindEnv(keyDefault); err != nil {
		return nil, err
	}
	if err := v.BindEnv(keyFrom); err != nil {
		return nil, err
	}
	if err := v.BindEnv(keySendGridAPIKey, envSendGridAPIKey); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode mail config: %w", err)
	}

	// Env-only values are not part of the unmarshalled tree when the file
	// has no services section.
	if key := v.GetString(keySendGridAPIKey); key != "" {
		if cfg.Services == nil {
			cfg.Services = map[string]map[string]any{}
		}
		if cfg.Services["sendgrid"] == nil {
			cfg.Services["sendgrid"] = map[string]any{}
		}
		cfg.Services["sendgrid"]["api_key"] = key
	}

	if len(cfg.Mailers) == 0 {
		cfg.Mailers = map[string]MailerConfig{
			cfg.Default: {Transport: defaultTransportLog},
		}
	}

	return &cfg, nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// secondsToDurationHookFunc reads a unitless number, or a string holding
// one, as seconds when the target is a time.Duration. Strings with a unit
// such as "15s" are left to StringToTimeDurationHookFunc.
func secondsToDurationHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from == nil || to != durationType || from == durationType {
			return data, nil
		}

		v := reflect.ValueOf(data)
		switch from.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return time.Duration(v.Int()) * time.Second, nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return time.Duration(v.Uint()) * time.Second, nil
		case reflect.Float32, reflect.Float64:
			return time.Duration(v.Float() * float64(time.Second)), nil
		case reflect.String:
			seconds, err := strconv.ParseFloat(strings.TrimSpace(v.String()), 64)
			if err != nil {
				return data, nil
			}
			return time.Duration(seconds * float64(time.Second)), nil
		}
		return data, nil
	}
}

// DecodeService decodes the services.<name> section into target, which
// must be a pointer to a struct with mapstructure tags. Durations accept
// "15s" style strings; bare numbers are seconds. A missing section leaves
// target untouched.
func (c *Config) DecodeService(name string, target any) error {
	if c == nil {
		return nil
	}
	section, ok := c.Services[name]
	if !ok {
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			secondsToDurationHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(section); err != nil {
		return fmt.Errorf("decode services.%s: %w", name, err)
	}
	return nil
}
