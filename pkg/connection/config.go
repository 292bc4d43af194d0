package connection

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tether-protocol/tether-go/pkg/transport"
)

// Configuration defaults.
const (
	// DefaultConnectTimeout bounds a single connect attempt.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultProbeInterval is the interval between liveness probes.
	DefaultProbeInterval = 30 * time.Second

	// DefaultProbeFailThreshold is the number of consecutive probe
	// failures that ends the session.
	DefaultProbeFailThreshold = 3

	// DefaultTimeoutCloseCode is sent for timeout-induced closes
	// (connect timeout, probe threshold).
	DefaultTimeoutCloseCode = 4000

	// DefaultInternalCloseCode is sent for internal-error-induced
	// closes.
	DefaultInternalCloseCode = 4001

	// DefaultCloseReason accompanies a normal stop.
	DefaultCloseReason = "Normal Closure"
)

// Configuration errors.
var (
	// ErrInvalidCloseCode is returned for close codes other than 1000
	// or [3000, 4999].
	ErrInvalidCloseCode = errors.New("close code must be 1000 or in [3000, 4999]")

	// ErrNilCallback is returned when a required callback is nil.
	ErrNilCallback = errors.New("callback must not be nil")
)

// ValidCloseCode reports whether code may be sent as an outgoing close
// code: exactly 1000, or an application code in [3000, 4999].
func ValidCloseCode(code int) bool {
	return code == transport.CloseNormal || (code >= 3000 && code <= 4999)
}

// Config is the supervisor configuration. All fields are mutable at any
// time through setters; a change applies to the next relevant operation,
// never retroactively to in-flight timers.
type Config struct {
	mu sync.RWMutex

	address            string
	factory            transport.Factory
	connectTimeout     time.Duration
	reconnect          bool
	delay              DelayFunc
	maxCounter         int
	probeInterval      time.Duration
	probeFailThreshold int
	timeoutCloseCode   int
	internalCloseCode  int
}

// NewConfig creates a configuration with defaults for everything but
// the target address and transport factory.
func NewConfig(address string, factory transport.Factory) (*Config, error) {
	if factory == nil {
		return nil, fmt.Errorf("transport factory: %w", ErrNilCallback)
	}
	return &Config{
		address:            address,
		factory:            factory,
		connectTimeout:     DefaultConnectTimeout,
		reconnect:          true,
		delay:              DefaultDelay,
		maxCounter:         DefaultMaxReconnectCounter,
		probeInterval:      DefaultProbeInterval,
		probeFailThreshold: DefaultProbeFailThreshold,
		timeoutCloseCode:   DefaultTimeoutCloseCode,
		internalCloseCode:  DefaultInternalCloseCode,
	}, nil
}

// Address returns the target address.
func (c *Config) Address() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.address
}

// SetAddress sets the target address for subsequent connect attempts.
func (c *Config) SetAddress(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.address = address
}

// Factory returns the transport factory.
func (c *Config) Factory() transport.Factory {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.factory
}

// SetFactory sets the transport factory.
func (c *Config) SetFactory(factory transport.Factory) error {
	if factory == nil {
		return fmt.Errorf("transport factory: %w", ErrNilCallback)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factory = factory
	return nil
}

// ConnectTimeout returns the connect-timeout duration.
func (c *Config) ConnectTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connectTimeout
}

// SetConnectTimeout sets the connect-timeout duration.
func (c *Config) SetConnectTimeout(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("connect timeout must be positive, got %v", d)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectTimeout = d
	return nil
}

// Reconnect returns whether automatic reconnection is enabled.
func (c *Config) Reconnect() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reconnect
}

// SetReconnect enables or disables automatic reconnection.
func (c *Config) SetReconnect(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnect = enabled
}

// Delay returns the backoff policy.
func (c *Config) Delay() DelayFunc {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.delay
}

// SetDelay replaces the backoff policy.
func (c *Config) SetDelay(fn DelayFunc) error {
	if fn == nil {
		return fmt.Errorf("delay func: %w", ErrNilCallback)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = fn
	return nil
}

// MaxCounter returns the reconnect counter cap.
func (c *Config) MaxCounter() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxCounter
}

// SetMaxCounter sets the reconnect counter cap.
func (c *Config) SetMaxCounter(max int) error {
	if max < 0 {
		return fmt.Errorf("max reconnect counter must be >= 0, got %d", max)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxCounter = max
	return nil
}

// ProbeInterval returns the liveness probe interval.
func (c *Config) ProbeInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.probeInterval
}

// SetProbeInterval sets the liveness probe interval. A pending
// accelerated first probe is not affected; the new interval applies
// from the next scheduled probe.
func (c *Config) SetProbeInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("probe interval must be positive, got %v", d)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probeInterval = d
	return nil
}

// ProbeFailThreshold returns the consecutive-failure threshold.
func (c *Config) ProbeFailThreshold() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.probeFailThreshold
}

// SetProbeFailThreshold sets the consecutive-failure threshold.
func (c *Config) SetProbeFailThreshold(n int) error {
	if n < 1 {
		return fmt.Errorf("probe fail threshold must be >= 1, got %d", n)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probeFailThreshold = n
	return nil
}

// TimeoutCloseCode returns the close code for timeout-induced closes.
func (c *Config) TimeoutCloseCode() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.timeoutCloseCode
}

// SetTimeoutCloseCode sets the close code for timeout-induced closes.
func (c *Config) SetTimeoutCloseCode(code int) error {
	if !ValidCloseCode(code) {
		return fmt.Errorf("timeout close code %d: %w", code, ErrInvalidCloseCode)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeoutCloseCode = code
	return nil
}

// InternalCloseCode returns the close code for internal-error closes.
func (c *Config) InternalCloseCode() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.internalCloseCode
}

// SetInternalCloseCode sets the close code for internal-error closes.
func (c *Config) SetInternalCloseCode(code int) error {
	if !ValidCloseCode(code) {
		return fmt.Errorf("internal close code %d: %w", code, ErrInvalidCloseCode)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.internalCloseCode = code
	return nil
}

// ConfigFile is the YAML representation of the tunable configuration.
// Durations use Go duration syntax ("30s", "1m30s"). Zero values keep
// the existing setting.
type ConfigFile struct {
	Address            string `yaml:"address"`
	ConnectTimeout     string `yaml:"connect_timeout"`
	Reconnect          *bool  `yaml:"reconnect"`
	MaxCounter         *int   `yaml:"max_reconnect_counter"`
	ProbeInterval      string `yaml:"probe_interval"`
	ProbeFailThreshold *int   `yaml:"probe_fail_threshold"`
	TimeoutCloseCode   *int   `yaml:"timeout_close_code"`
	InternalCloseCode  *int   `yaml:"internal_close_code"`
}

// LoadFile applies settings from a YAML file on top of the current
// configuration. Each value is validated through its setter.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return c.Apply(file)
}

// Apply applies a parsed ConfigFile through the validating setters.
func (c *Config) Apply(file ConfigFile) error {
	if file.Address != "" {
		c.SetAddress(file.Address)
	}
	if file.ConnectTimeout != "" {
		d, err := time.ParseDuration(file.ConnectTimeout)
		if err != nil {
			return fmt.Errorf("connect_timeout: %w", err)
		}
		if err := c.SetConnectTimeout(d); err != nil {
			return err
		}
	}
	if file.Reconnect != nil {
		c.SetReconnect(*file.Reconnect)
	}
	if file.MaxCounter != nil {
		if err := c.SetMaxCounter(*file.MaxCounter); err != nil {
			return err
		}
	}
	if file.ProbeInterval != "" {
		d, err := time.ParseDuration(file.ProbeInterval)
		if err != nil {
			return fmt.Errorf("probe_interval: %w", err)
		}
		if err := c.SetProbeInterval(d); err != nil {
			return err
		}
	}
	if file.ProbeFailThreshold != nil {
		if err := c.SetProbeFailThreshold(*file.ProbeFailThreshold); err != nil {
			return err
		}
	}
	if file.TimeoutCloseCode != nil {
		if err := c.SetTimeoutCloseCode(*file.TimeoutCloseCode); err != nil {
			return err
		}
	}
	if file.InternalCloseCode != nil {
		if err := c.SetInternalCloseCode(*file.InternalCloseCode); err != nil {
			return err
		}
	}
	return nil
}
