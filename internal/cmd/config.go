package cmd

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/AdguardTeam/FilterSync/internal/agdhttp"
	"github.com/AdguardTeam/FilterSync/internal/subscription"
	"github.com/AdguardTeam/golibs/container"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/netutil/urlutil"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/golibs/validate"
	"gopkg.in/yaml.v2"
)

// configuration represents the on-disk configuration of FilterSync.  The order
// of the fields should generally not be altered.
type configuration struct {
	// Synchronizer is the configuration of the subscription downloads.
	Synchronizer *synchronizerConfig `yaml:"synchronizer"`

	// Rules is the configuration of the rule compilation and deployment.
	Rules *rulesConfig `yaml:"rules"`

	// Subscriptions is the configuration of the known subscriptions.
	Subscriptions *subscriptionsConfig `yaml:"subscriptions"`
}

// type check
var _ validate.Interface = (*configuration)(nil)

// Validate implements the [validate.Interface] interface for *configuration.
func (c *configuration) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	// Keep this in the same order as the fields in the config.
	validators := container.KeyValues[string, validate.Interface]{{
		Key:   "synchronizer",
		Value: c.Synchronizer,
	}, {
		Key:   "rules",
		Value: c.Rules,
	}, {
		Key:   "subscriptions",
		Value: c.Subscriptions,
	}}

	var errs []error
	for _, kv := range validators {
		errs = validate.Append(errs, kv.Key, kv.Value)
	}

	return errors.Join(errs...)
}

// parseConfig reads the configuration.
func parseConfig(confPath string) (c *configuration, err error) {
	// #nosec G304 -- Trust the path to the configuration file that is given
	// from the environment.
	yamlFile, err := os.ReadFile(confPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	c = &configuration{}
	err = yaml.Unmarshal(yamlFile, c)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return c, nil
}

// synchronizerConfig is the configuration of the subscription downloads.
type synchronizerConfig struct {
	// Platform is the value of the platform query parameter of the download
	// requests.
	Platform string `yaml:"platform"`

	// FallbackURL is the template of the fallback address.  If it's empty, the
	// fallback is never requested.
	FallbackURL string `yaml:"fallback_url"`

	// InitialDelay is the delay before the first scheduled check.
	InitialDelay timeutil.Duration `yaml:"initial_delay"`

	// CheckInterval is the interval between the scheduled checks.
	CheckInterval timeutil.Duration `yaml:"check_interval"`

	// MaxAbsence is the maximum interval between checks after which the soft
	// expirations are shifted.
	MaxAbsence timeutil.Duration `yaml:"max_absence"`

	// MinRetryInterval is the minimum interval between a failed download and
	// the next scheduled one.
	MinRetryInterval timeutil.Duration `yaml:"min_retry_interval"`

	// DownloadTimeout is the timeout of a single download.
	DownloadTimeout timeutil.Duration `yaml:"download_timeout"`

	// FallbackThreshold is the number of consecutive automatic failures after
	// which the fallback is requested.
	FallbackThreshold int `yaml:"fallback_threshold"`

	// AutoUpdate enables the scheduled checks.
	AutoUpdate bool `yaml:"auto_update"`
}

// type check
var _ validate.Interface = (*synchronizerConfig)(nil)

// Validate implements the [validate.Interface] interface for
// *synchronizerConfig.
func (c *synchronizerConfig) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	errs := []error{
		validate.NotEmpty("platform", c.Platform),
		validate.NotNegative("initial_delay", c.InitialDelay),
		validate.Positive("check_interval", c.CheckInterval),
		validate.Positive("max_absence", c.MaxAbsence),
		validate.NotNegative("min_retry_interval", c.MinRetryInterval),
		validate.Positive("download_timeout", c.DownloadTimeout),
		validate.NotNegative("fallback_threshold", c.FallbackThreshold),
	}

	if c.FallbackURL != "" {
		errs = append(errs, validateHTTPURL("fallback_url", c.FallbackURL))
	}

	return errors.Join(errs...)
}

// rulesConfig is the configuration of the rule compilation and deployment.
type rulesConfig struct {
	// RegexpCacheTTL is the lifetime of the memoized results of the
	// regular-expression support probe.  Zero means no expiration.
	RegexpCacheTTL timeutil.Duration `yaml:"regexp_cache_ttl"`

	// MaxDynamicRules is the ceiling of the number of the dynamic rules.
	MaxDynamicRules int `yaml:"max_dynamic_rules"`

	// MaxRegexpInsts is the limit of the compiled program size of a supported
	// regular expression.
	MaxRegexpInsts int `yaml:"max_regexp_insts"`

	// CompileCacheSize is the number of the compiled filters to keep.  Zero
	// disables the cache.
	CompileCacheSize int `yaml:"compile_cache_size"`

	// ParseCacheSize is the number of the parsed filters to keep.  Zero
	// disables the cache.
	ParseCacheSize int `yaml:"parse_cache_size"`

	// RegexpCacheSize is the number of the memoized regular-expression
	// support probe results.
	RegexpCacheSize int `yaml:"regexp_cache_size"`
}

// type check
var _ validate.Interface = (*rulesConfig)(nil)

// Validate implements the [validate.Interface] interface for *rulesConfig.
func (c *rulesConfig) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	return errors.Join(
		validate.NotNegative("regexp_cache_ttl", c.RegexpCacheTTL),
		validate.Positive("max_dynamic_rules", c.MaxDynamicRules),
		validate.Positive("max_regexp_insts", c.MaxRegexpInsts),
		validate.NotNegative("compile_cache_size", c.CompileCacheSize),
		validate.NotNegative("parse_cache_size", c.ParseCacheSize),
		validate.Positive("regexp_cache_size", c.RegexpCacheSize),
	)
}

// subscriptionsConfig is the configuration of the known subscriptions.
type subscriptionsConfig struct {
	// Initial are the subscriptions added when the storage is empty.
	Initial []*initialSubscription `yaml:"initial"`

	// Privileged are the URLs of the subscriptions that may deploy privileged
	// filters.
	Privileged []string `yaml:"privileged"`

	// Countable are the URLs of the subscriptions that are only pinged.
	Countable []string `yaml:"countable"`
}

// type check
var _ validate.Interface = (*subscriptionsConfig)(nil)

// Validate implements the [validate.Interface] interface for
// *subscriptionsConfig.
func (c *subscriptionsConfig) Validate() (err error) {
	if c == nil {
		return errors.ErrNoValue
	}

	var errs []error
	for i, s := range c.Initial {
		errs = validate.Append(errs, fmt.Sprintf("initial: at index %d", i), s)
	}

	for i, u := range c.Privileged {
		errs = append(errs, validateHTTPURL(fmt.Sprintf("privileged: at index %d", i), u))
	}

	for i, u := range c.Countable {
		errs = append(errs, validateHTTPURL(fmt.Sprintf("countable: at index %d", i), u))
	}

	return errors.Join(errs...)
}

// initialSubscription is a subscription added on the first start.
type initialSubscription struct {
	// URL is the address of the list.
	URL string `yaml:"url"`

	// Title is the title shown until the list provides its own.
	Title string `yaml:"title"`
}

// type check
var _ validate.Interface = (*initialSubscription)(nil)

// Validate implements the [validate.Interface] interface for
// *initialSubscription.
func (s *initialSubscription) Validate() (err error) {
	if s == nil {
		return errors.ErrNoValue
	}

	if agdhttp.IsDataURL(s.URL) {
		return nil
	}

	if strings.HasPrefix(s.URL, subscription.SpecialPrefix) {
		return fmt.Errorf("url: special subscription %q", s.URL)
	}

	return validateHTTPURL("url", s.URL)
}

// validateHTTPURL returns an error if rawURL is not a valid HTTP(S) URL.
func validateHTTPURL(name, rawURL string) (err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	err = urlutil.ValidateHTTPURL(u)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}

	return nil
}

// duration returns d as a [time.Duration].
func duration(d timeutil.Duration) (td time.Duration) {
	return time.Duration(d)
}
