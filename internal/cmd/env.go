package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/AdguardTeam/FilterSync/internal/errcoll"
	"github.com/AdguardTeam/FilterSync/internal/version"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/netutil"
	"github.com/AdguardTeam/golibs/validate"
	"github.com/c2h5oh/datasize"
	"github.com/caarlos0/env/v7"
	"github.com/getsentry/sentry-go"
)

// Storage types.
const (
	storageTypeFile  = "file"
	storageTypeRedis = "redis"
)

// environment represents the configuration that is kept in the environment.
type environment struct {
	RedisAddr *netutil.HostPort `env:"REDIS_ADDR"`

	ConfPath    string `env:"CONFIG_PATH" envDefault:"./config.yaml"`
	ListenAddr  string `env:"LISTEN_ADDR" envDefault:"127.0.0.1"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"text"`
	RedisKey    string `env:"REDIS_KEY" envDefault:"filtersync:storage"`
	RulesPath   string `env:"RULES_PATH" envDefault:"./rules.json"`
	SentryDSN   string `env:"SENTRY_DSN" envDefault:"stderr"`
	StoragePath string `env:"STORAGE_PATH" envDefault:"./patterns.ini"`
	StorageType string `env:"STORAGE_TYPE" envDefault:"file"`

	MaxDownloadSize datasize.ByteSize `env:"MAX_DOWNLOAD_SIZE" envDefault:"16MB"`

	ListenPort uint16 `env:"LISTEN_PORT" envDefault:"8181"`

	Verbosity uint8 `env:"VERBOSE" envDefault:"0"`

	LogTimestamp strictBool `env:"LOG_TIMESTAMP" envDefault:"1"`
}

// parseEnvironment reads the configuration.
func parseEnvironment() (envs *environment, err error) {
	envs = &environment{}
	err = env.Parse(envs)
	if err != nil {
		return nil, fmt.Errorf("parsing environments: %w", err)
	}

	return envs, nil
}

// type check
var _ validate.Interface = (*environment)(nil)

// Validate implements the [validate.Interface] interface for *environment.
func (envs *environment) Validate() (err error) {
	errs := []error{
		validate.NotEmpty("CONFIG_PATH", envs.ConfPath),
		validate.NotEmpty("LISTEN_ADDR", envs.ListenAddr),
		validate.NotEmpty("RULES_PATH", envs.RulesPath),
		validate.Positive("LISTEN_PORT", envs.ListenPort),
		validate.Positive("MAX_DOWNLOAD_SIZE", envs.MaxDownloadSize),
	}

	_, err = slogutil.NewFormat(envs.LogFormat)
	if err != nil {
		errs = append(errs, fmt.Errorf("LOG_FORMAT: %w", err))
	}

	_, err = slogutil.VerbosityToLevel(envs.Verbosity)
	if err != nil {
		errs = append(errs, fmt.Errorf("VERBOSE: %w", err))
	}

	errs = envs.validateStorage(errs)

	return errors.Join(errs...)
}

// validateStorage appends validation errors to orig if the environment
// variables for the filter storage contain errors.
func (envs *environment) validateStorage(orig []error) (errs []error) {
	errs = orig

	switch typ := envs.StorageType; typ {
	case storageTypeFile:
		return append(errs, validate.NotEmpty("STORAGE_PATH", envs.StoragePath))
	case storageTypeRedis:
		errs = append(errs, validate.NotEmpty("REDIS_KEY", envs.RedisKey))
		if envs.RedisAddr == nil {
			errs = append(errs, fmt.Errorf("REDIS_ADDR: %w", errors.ErrNoValue))
		}

		return errs
	default:
		return append(errs, fmt.Errorf("STORAGE_TYPE: %w: %q", errors.ErrBadEnumValue, typ))
	}
}

// buildErrColl builds and returns an error collector from environment.
// baseLogger must not be nil.
func (envs *environment) buildErrColl(
	baseLogger *slog.Logger,
) (errColl errcoll.Interface, err error) {
	dsn := envs.SentryDSN
	if dsn == "stderr" {
		return errcoll.NewWriterErrorCollector(os.Stderr), nil
	}

	cli, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              dsn,
		AttachStacktrace: true,
		Release:          version.Version(),
	})
	if err != nil {
		return nil, err
	}

	l := baseLogger.With(slogutil.KeyPrefix, "sentry_errcoll")

	return errcoll.NewSentryErrorCollector(l, cli), nil
}

// debugAddr returns the address of the debug HTTP service.
func (envs *environment) debugAddr() (addr string) {
	return netutil.JoinHostPort(envs.ListenAddr, envs.ListenPort)
}

// strictBool is a type for booleans that are parsed from the environment more
// strictly than the usual bool.  It only accepts "0" and "1" as valid values.
type strictBool bool

// UnmarshalText implements the encoding.TextUnmarshaler interface for
// *strictBool.
func (sb *strictBool) UnmarshalText(b []byte) (err error) {
	if len(b) == 1 {
		switch b[0] {
		case '0':
			*sb = false

			return nil
		case '1':
			*sb = true

			return nil
		default:
			// Go on and return an error.
		}
	}

	return fmt.Errorf("invalid value %q, supported: %q, %q", b, "0", "1")
}
