//go:build linux || darwin

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeycumines/go-ioselector"
	"github.com/joeycumines/go-ioselector/guard"
	"github.com/joeycumines/logiface"
)

// config is the TOML configuration file. Flags override it.
type config struct {
	Backend  string         `toml:"backend"`
	LogLevel string         `toml:"log_level"`
	Selector selectorConfig `toml:"selector"`
	Guard    guardConfig    `toml:"guard"`
	Bench    benchConfig    `toml:"bench"`
	Echo     echoConfig     `toml:"echo"`
}

type selectorConfig struct {
	MaxWorkers        int      `toml:"max_workers"`
	EventBufferSize   int      `toml:"event_buffer_size"`
	WorkerIdleTimeout duration `toml:"worker_idle_timeout"`
	Metrics           bool     `toml:"metrics"`
}

type guardConfig struct {
	Policy        string   `toml:"policy"`
	Retries       int      `toml:"retries"`
	RetryInterval duration `toml:"retry_interval"`
}

type benchConfig struct {
	Pipes     int `toml:"pipes"`
	Rounds    int `toml:"rounds"`
	Producers int `toml:"producers"`
}

type echoConfig struct {
	Addr     string `toml:"addr"`
	MaxConns int    `toml:"max_conns"`
}

// duration decodes TOML strings such as "100ms".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) (err error) {
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func defaultConfig() config {
	return config{
		Backend:  ioselector.BackendDefault.String(),
		LogLevel: logiface.LevelInformational.String(),
		Selector: selectorConfig{
			EventBufferSize:   64,
			WorkerIdleTimeout: duration{10 * time.Second},
			Metrics:           true,
		},
		Guard: guardConfig{
			Policy:        guard.ExhaustDeferRelease.String(),
			Retries:       guard.DefaultRetries,
			RetryInterval: duration{guard.DefaultRetryInterval},
		},
		Bench: benchConfig{
			Pipes:     256,
			Rounds:    100,
			Producers: 4,
		},
		Echo: echoConfig{
			Addr:     "127.0.0.1:7007",
			MaxConns: 1024,
		},
	}
}

// loadConfig decodes path over the defaults. Unknown keys are an error.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) != 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return config{}, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

func (c config) validate() error {
	var errs []error
	if _, err := ioselector.ParseBackendKind(c.Backend); err != nil {
		errs = append(errs, err)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := guard.ParseExhaustionPolicy(c.Guard.Policy); err != nil {
		errs = append(errs, err)
	}
	if c.Selector.MaxWorkers < 0 {
		errs = append(errs, errors.New("selector.max_workers must not be negative"))
	}
	if c.Guard.Retries < 0 {
		errs = append(errs, errors.New("guard.retries must not be negative"))
	}
	if c.Echo.MaxConns <= 0 {
		errs = append(errs, errors.New("echo.max_conns must be positive"))
	}
	if c.Bench.Pipes <= 0 || c.Bench.Rounds <= 0 || c.Bench.Producers <= 0 {
		errs = append(errs, errors.New("bench.pipes, bench.rounds and bench.producers must be positive"))
	}
	return errors.Join(errs...)
}

// selectorOptions maps the config onto selector options. It assumes a
// validated config.
func (c config) selectorOptions(logger *logiface.Logger[logiface.Event]) []ioselector.Option {
	kind, _ := ioselector.ParseBackendKind(c.Backend)
	opts := []ioselector.Option{
		ioselector.WithLogger(logger),
		ioselector.WithBackendKind(kind),
		ioselector.WithMaxWorkers(c.Selector.MaxWorkers),
		ioselector.WithMetrics(c.Selector.Metrics),
	}
	if c.Selector.EventBufferSize > 0 {
		opts = append(opts, ioselector.WithEventBufferSize(c.Selector.EventBufferSize))
	}
	if c.Selector.WorkerIdleTimeout.Duration > 0 {
		opts = append(opts, ioselector.WithWorkerIdleTimeout(c.Selector.WorkerIdleTimeout.Duration))
	}
	return opts
}

// guardOptions maps the config onto guard options. It assumes a validated
// config.
func (c config) guardOptions(logger *logiface.Logger[logiface.Event]) []guard.Option {
	policy, _ := guard.ParseExhaustionPolicy(c.Guard.Policy)
	opts := []guard.Option{
		guard.WithLogger(logger),
		guard.WithExhaustionPolicy(policy),
		guard.WithRetries(c.Guard.Retries),
	}
	if c.Guard.RetryInterval.Duration > 0 {
		opts = append(opts, guard.WithRetryInterval(c.Guard.RetryInterval.Duration))
	}
	return opts
}

// parseLevel accepts the logiface level keywords, plus "error" and "warn".
func parseLevel(s string) (logiface.Level, error) {
	switch s := strings.ToLower(strings.TrimSpace(s)); s {
	case "error":
		return logiface.LevelError, nil
	case "warn":
		return logiface.LevelWarning, nil
	default:
		for l := logiface.LevelDisabled; l <= logiface.LevelTrace; l++ {
			if l.String() == s {
				return l, nil
			}
		}
	}
	return 0, fmt.Errorf("unknown log level: %q", s)
}
