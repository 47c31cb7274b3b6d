package netguard

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tradeguard/pkg/breaker"
)

// EndpointSpec is one entry of the endpoint map: the concrete method and path
// behind a logical operation name.
type EndpointSpec struct {
	Method string `yaml:"method"`
	Path   string `yaml:"path"`
}

// EndpointMap is the YAML file mapping logical operation names to endpoints,
// per exchange.
type EndpointMap struct {
	Exchanges map[string]map[string]EndpointSpec `yaml:"exchanges"`
}

// LoadEndpointMap reads the endpoint map from a YAML file.
func LoadEndpointMap(path string) (*EndpointMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read endpoint map: %w", err)
	}
	var m EndpointMap
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse endpoint map: %w", err)
	}
	return &m, nil
}

// LimitSpec defines the default bucket and breaker settings for an exchange.
type LimitSpec struct {
	RatePerSec         float64 `yaml:"rate_per_sec"`
	Capacity           float64 `yaml:"capacity"`
	FailureThreshold   int     `yaml:"failure_threshold"`
	RecoverySeconds    float64 `yaml:"recovery_seconds"`
	MaxRecoverySeconds float64 `yaml:"max_recovery_seconds"`
}

// PatternSpec overrides the bucket settings for endpoints whose path starts
// with Path.
type PatternSpec struct {
	Path       string  `yaml:"path"`
	RatePerSec float64 `yaml:"rate_per_sec"`
	Capacity   float64 `yaml:"capacity"`
}

// ExchangeLimits groups an exchange's default limits and endpoint overrides.
type ExchangeLimits struct {
	Default  LimitSpec     `yaml:"default"`
	Patterns []PatternSpec `yaml:"patterns"`
}

// RateLimitConfig is the parsed rate-limit definitions file.
type RateLimitConfig struct {
	Exchanges map[string]ExchangeLimits `yaml:"exchanges"`
}

// LoadRateLimits reads bucket/breaker definitions from a YAML file.
func LoadRateLimits(path string) (*RateLimitConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rate limits: %w", err)
	}
	var c RateLimitConfig
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse rate limits: %w", err)
	}
	return &c, nil
}

// fallbackSpec applies when an exchange has no configured limits at all.
var fallbackSpec = LimitSpec{RatePerSec: 10, Capacity: 10}

func (c *RateLimitConfig) defaults(exchange string) LimitSpec {
	if c == nil {
		return fallbackSpec
	}
	ex, ok := c.Exchanges[strings.ToLower(exchange)]
	if !ok {
		return fallbackSpec
	}
	spec := ex.Default
	if spec.RatePerSec == 0 && spec.Capacity == 0 && spec.FailureThreshold == 0 {
		// Empty default section: treat as absent rather than a kill switch.
		// Killing an exchange requires an explicit zero rate or capacity.
		return fallbackSpec
	}
	if spec.Capacity == 0 && spec.RatePerSec > 0 {
		spec.Capacity = spec.RatePerSec
	}
	return spec
}

// Match selects the bucket definition for a call. Among the patterns whose
// path is a prefix of the endpoint path, the longest (most specific) wins;
// with no match the exchange default applies under the pattern name
// "default". Ties cannot occur since patterns are distinct prefixes.
func (c *RateLimitConfig) Match(exchange, path string) (pattern string, ratePerSec, capacity float64) {
	def := c.defaults(exchange)
	pattern, ratePerSec, capacity = "default", def.RatePerSec, def.Capacity

	if c == nil {
		return
	}
	ex, ok := c.Exchanges[strings.ToLower(exchange)]
	if !ok {
		return
	}

	best := -1
	for _, p := range ex.Patterns {
		if p.Path == "" || !strings.HasPrefix(path, p.Path) {
			continue
		}
		if len(p.Path) > best {
			best = len(p.Path)
			pattern = p.Path
			ratePerSec = p.RatePerSec
			capacity = p.Capacity
			if capacity == 0 && ratePerSec > 0 {
				capacity = ratePerSec
			}
		}
	}
	return
}

// Breaker returns the circuit breaker configuration for an exchange.
func (c *RateLimitConfig) Breaker(exchange string) breaker.Config {
	def := c.defaults(exchange)
	cfg := breaker.DefaultConfig()
	if def.FailureThreshold > 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if def.RecoverySeconds > 0 {
		cfg.Cooldown = time.Duration(def.RecoverySeconds * float64(time.Second))
	}
	if def.MaxRecoverySeconds > 0 {
		cfg.MaxCooldown = time.Duration(def.MaxRecoverySeconds * float64(time.Second))
	}
	if cfg.MaxCooldown < cfg.Cooldown {
		cfg.MaxCooldown = cfg.Cooldown
	}
	return cfg
}
