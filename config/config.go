// Copyright 2024 Finatext Ltd.
//
//    Licensed under the Apache License, Version 2.0 (the "License"); you may
//    not use this file except in compliance with the License. You may obtain
//    a copy of the License at
//
//         http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
//    WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
//    License for the specific language governing permissions and limitations
//    under the License.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

const (
	// DefaultJobTimeout bounds a single job execution.
	DefaultJobTimeout = 10 * time.Minute
	// DefaultCheckoutTimeout bounds the whole clone/fetch/checkout step.
	DefaultCheckoutTimeout = 10 * time.Minute
	// DefaultShutdownTimeout is how long a server waits for in-flight
	// dispatches before exiting.
	DefaultShutdownTimeout = 15 * time.Minute
	// DefaultAPICallTimeout bounds a single GitHub API call.
	DefaultAPICallTimeout = 30 * time.Second

	DefaultFrontPort  = 8080
	DefaultRunnerPort = 8081

	DefaultFetchDepth = 1

	DefaultGithubAPIBaseURL = "https://api.github.com"
	DefaultCloneBaseURL     = "https://github.com"
	DefaultRunnerEndpoint   = "http://127.0.0.1:8081/run"
)

// Duration wraps time.Duration so TOML and env values can use human
// readable strings like "10m".
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrap(err, "parsing duration")
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// NewConfig loads configuration from an optional TOML file and overlays
// environment variables on top. Pass an empty path for env-only operation.
func NewConfig(cfgFile string) (*Config, error) {
	config := defaultConfig()
	if cfgFile != "" {
		if _, err := toml.DecodeFile(cfgFile, &config); err != nil {
			return nil, errors.Wrap(err, "decoding toml")
		}
	}
	if err := config.applyEnv(); err != nil {
		return nil, errors.Wrap(err, "applying environment")
	}
	return &config, nil
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		Github: Github{
			APIBaseURL:   DefaultGithubAPIBaseURL,
			CloneBaseURL: DefaultCloneBaseURL,
		},
		Front: Front{
			Bind:            "0.0.0.0",
			Port:            DefaultFrontPort,
			RunnerEndpoint:  DefaultRunnerEndpoint,
			ShutdownTimeout: Duration(DefaultShutdownTimeout),
		},
		Runner: Runner{
			Bind:            "0.0.0.0",
			Port:            DefaultRunnerPort,
			WorkDir:         os.TempDir(),
			JobTimeout:      Duration(DefaultJobTimeout),
			CheckoutTimeout: Duration(DefaultCheckoutTimeout),
			ShutdownTimeout: Duration(DefaultShutdownTimeout),
			FetchDepth:      DefaultFetchDepth,
		},
	}
}

type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level,omitempty"`
	Github   Github `toml:"github,omitempty"`
	Front    Front  `toml:"front,omitempty"`
	Runner   Runner `toml:"runner,omitempty"`
}

// ValidateFront validates the sections the front process needs.
func (c *Config) ValidateFront() error {
	if err := c.Github.Validate(); err != nil {
		return errors.Wrap(err, "validating github config")
	}
	if c.Github.WebhookSecret == "" {
		return fmt.Errorf("missing webhook secret (GITHUB_WEBHOOK_SECRET)")
	}
	if err := c.Front.Validate(); err != nil {
		return errors.Wrap(err, "validating front config")
	}
	return nil
}

// ValidateRunner validates the sections the runner process needs.
func (c *Config) ValidateRunner() error {
	if err := c.Github.Validate(); err != nil {
		return errors.Wrap(err, "validating github config")
	}
	if err := c.Runner.Validate(); err != nil {
		return errors.Wrap(err, "validating runner config")
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.LogLevel, "ORGU_LOG")

	if err := setInt64(&c.Github.AppID, "GITHUB_APP_ID"); err != nil {
		return err
	}
	if err := setInt64(&c.Github.InstallationID, "GITHUB_INSTALLATION_ID"); err != nil {
		return err
	}
	setString(&c.Github.PrivateKey, "GITHUB_PRIVATE_KEY")
	setString(&c.Github.WebhookSecret, "GITHUB_WEBHOOK_SECRET")
	setString(&c.Github.APIBaseURL, "GITHUB_API_BASE_URL")
	setString(&c.Github.CloneBaseURL, "ORGU_CLONE_BASE_URL")

	setString(&c.Front.Bind, "ORGU_BIND")
	if err := setInt(&c.Front.Port, "ORGU_PORT"); err != nil {
		return err
	}
	setString(&c.Front.EventBusName, "ORGU_EVENT_BUS_NAME")
	setString(&c.Front.RelayEndpoint, "ORGU_EVENT_QUEUE_RELAY_ENDPOINT")
	setString(&c.Front.RunnerEndpoint, "ORGU_RUNNER_ENDPOINT")
	if err := setDuration(&c.Front.ShutdownTimeout, "ORGU_SHUTDOWN_TIMEOUT"); err != nil {
		return err
	}

	setString(&c.Runner.Bind, "ORGU_BIND")
	if err := setInt(&c.Runner.Port, "ORGU_PORT"); err != nil {
		return err
	}
	setString(&c.Runner.WorkDir, "ORGU_WORK_DIR")
	setString(&c.Runner.JobName, "ORGU_JOB_NAME")
	if v, ok := os.LookupEnv("ORGU_JOB_COMMAND"); ok {
		c.Runner.Command = strings.Fields(v)
	}
	if err := setDuration(&c.Runner.JobTimeout, "ORGU_JOB_TIMEOUT"); err != nil {
		return err
	}
	if err := setDuration(&c.Runner.CheckoutTimeout, "ORGU_CHECKOUT_TIMEOUT"); err != nil {
		return err
	}
	if err := setDuration(&c.Runner.ShutdownTimeout, "ORGU_SHUTDOWN_TIMEOUT"); err != nil {
		return err
	}
	if err := setInt(&c.Runner.FetchDepth, "ORGU_FETCH_DEPTH"); err != nil {
		return err
	}
	if v, ok := os.LookupEnv("ORGU_PASS_ENV"); ok {
		names := strings.Split(v, ",")
		passEnv := make([]string, 0, len(names))
		for _, name := range names {
			if trimmed := strings.TrimSpace(name); trimmed != "" {
				passEnv = append(passEnv, trimmed)
			}
		}
		c.Runner.PassEnv = passEnv
	}
	return nil
}

// Github holds the GitHub App credentials shared by both processes.
type Github struct {
	AppID          int64  `toml:"app_id,omitempty"`
	InstallationID int64  `toml:"installation_id,omitempty"`
	// PrivateKey is the PEM encoded RS256 private key of the app.
	PrivateKey    string `toml:"private_key,omitempty"`
	WebhookSecret string `toml:"webhook_secret,omitempty"`
	APIBaseURL    string `toml:"api_base_url,omitempty"`
	// CloneBaseURL is the host repositories are cloned from.
	CloneBaseURL string `toml:"clone_base_url,omitempty"`
}

func (g *Github) Validate() error {
	if g.AppID <= 0 {
		return fmt.Errorf("missing github app id (GITHUB_APP_ID)")
	}
	if g.InstallationID <= 0 {
		return fmt.Errorf("missing github installation id (GITHUB_INSTALLATION_ID)")
	}
	if g.PrivateKey == "" {
		return fmt.Errorf("missing github private key (GITHUB_PRIVATE_KEY)")
	}
	return nil
}

// Front holds configuration for the webhook ingress process.
type Front struct {
	Bind string `toml:"bind,omitempty"`
	Port int    `toml:"port,omitempty"`
	// EventBusName selects the EventBridge relay when set.
	EventBusName string `toml:"event_bus_name,omitempty"`
	// RelayEndpoint selects the HTTP relay when set and no bus is set.
	RelayEndpoint string `toml:"relay_endpoint,omitempty"`
	// RunnerEndpoint is the direct POST target used when neither a bus
	// nor a relay endpoint is configured.
	RunnerEndpoint  string   `toml:"runner_endpoint,omitempty"`
	ShutdownTimeout Duration `toml:"shutdown_timeout,omitempty"`
}

func (f *Front) Validate() error {
	if f.Port <= 0 || f.Port > 65535 {
		return fmt.Errorf("invalid port: %d", f.Port)
	}
	if f.EventBusName == "" && f.RelayEndpoint == "" && f.RunnerEndpoint == "" {
		return fmt.Errorf("no event queue sink configured")
	}
	return nil
}

// Runner holds configuration for the job execution process.
type Runner struct {
	Bind    string `toml:"bind,omitempty"`
	Port    int    `toml:"port,omitempty"`
	WorkDir string `toml:"work_dir,omitempty"`
	// JobName is the display name of the check run.
	JobName string `toml:"job_name,omitempty"`
	// Command is the argv of the user job, executed without a shell.
	Command         []string `toml:"command,omitempty"`
	JobTimeout      Duration `toml:"job_timeout,omitempty"`
	CheckoutTimeout Duration `toml:"checkout_timeout,omitempty"`
	ShutdownTimeout Duration `toml:"shutdown_timeout,omitempty"`
	// FetchDepth is the clone depth. Zero fetches full history.
	FetchDepth int `toml:"fetch_depth,omitempty"`
	// PassEnv lists env var names forwarded from the runner process to
	// the job.
	PassEnv []string `toml:"pass_env,omitempty"`
}

func (r *Runner) Validate() error {
	if r.Port <= 0 || r.Port > 65535 {
		return fmt.Errorf("invalid port: %d", r.Port)
	}
	if r.JobName == "" {
		return fmt.Errorf("missing job name (ORGU_JOB_NAME)")
	}
	if len(r.Command) == 0 {
		return fmt.Errorf("missing job command (ORGU_JOB_COMMAND or trailing args)")
	}
	if r.WorkDir == "" {
		return fmt.Errorf("missing work dir")
	}
	if r.FetchDepth < 0 {
		return fmt.Errorf("invalid fetch depth: %d", r.FetchDepth)
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return errors.Wrapf(err, "parsing %s", key)
	}
	*dst = parsed
	return nil
}

func setInt64(dst *int64, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return errors.Wrapf(err, "parsing %s", key)
	}
	*dst = parsed
	return nil
}

func setDuration(dst *Duration, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return errors.Wrapf(err, "parsing %s", key)
	}
	*dst = Duration(parsed)
	return nil
}
