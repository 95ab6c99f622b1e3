// Package config is env-var driven configuration for cmd/mainloopd
// (cmd/mainloopctl takes flags only), with a sane default for every tunable named across
// SPEC_FULL.md. It deliberately holds no logic beyond parsing and
// defaulting — every value here maps straight onto a constructor argument
// or a worker.Config/forge/github.Config field at wiring time.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mainloopdev/mainloopd/internal/forge/github"
	"github.com/mainloopdev/mainloopd/internal/workflow/worker"
)

// Config is the full set of environment-derived settings a mainloopd
// process needs at startup.
type Config struct {
	// HTTPAddr is the address httpapi.Server listens on.
	HTTPAddr string

	// StorageDriver selects internal/storage's backend: "postgres" or
	// "memory". memory is the default so the daemon runs out of the box
	// without a database.
	StorageDriver string
	// PostgresDSN is required when StorageDriver is "postgres".
	PostgresDSN string

	// DurableDriver selects internal/durable's backend: "temporal" or
	// "memory". memory is the default for the same reason as above.
	DurableDriver string
	// TemporalHostPort is the Temporal frontend address when DurableDriver
	// is "temporal", e.g. "temporal.internal:7233".
	TemporalHostPort  string
	TemporalNamespace string

	// GitHubToken authenticates internal/forge/github's client. Empty
	// means forge calls will fail; mainloopd still starts so local
	// development against the in-memory storage/durable backends works
	// without a forge at all.
	GitHubToken string
	GitHub      github.Config

	// DefaultRepoURL seeds internal/classifier/fake's SpawnSpec default
	// when a "/new" message doesn't name a repo explicitly.
	DefaultRepoURL string

	// WorkerTaskConcurrency holds the configured cap on concurrently
	// running worker-task workflows (§4.1, §5); default
	// queue.DefaultWorkerTaskConcurrency. cmd/mainloopd does not pass it to
	// any engine, so no cap is applied.
	WorkerTaskConcurrency int

	// EventBusDriver selects internal/eventbus's backend: "memory" (default,
	// single-process fan-out only) or "redis" (also mirrors every event onto
	// a per-user goa.design/pulse stream so other processes can replay it).
	EventBusDriver string
	// RedisURL configures the go-redis client backing the "redis" eventbus
	// driver, e.g. "redis://localhost:6379/0".
	RedisURL string

	Worker worker.Config
}

// FileConfig mirrors Config's top-level scalar fields for YAML-file
// configuration. LoadFile applies any non-zero field it finds onto a Config,
// so a checked-in base YAML file and environment-variable overrides (which
// FromEnv applies afterward) can be layered together.
type FileConfig struct {
	HTTPAddr              string `yaml:"http_addr"`
	StorageDriver         string `yaml:"storage_driver"`
	PostgresDSN           string `yaml:"postgres_dsn"`
	DurableDriver         string `yaml:"durable_driver"`
	TemporalHostPort      string `yaml:"temporal_host_port"`
	TemporalNamespace     string `yaml:"temporal_namespace"`
	GitHubToken           string `yaml:"github_token"`
	DefaultRepoURL        string `yaml:"default_repo_url"`
	WorkerTaskConcurrency int    `yaml:"worker_task_concurrency"`
	EventBusDriver        string `yaml:"eventbus_driver"`
	RedisURL              string `yaml:"redis_url"`
}

// LoadFile reads a YAML config file at path and layers its fields onto cfg,
// returning the merged result. A zero-value field in the file leaves cfg's
// existing value untouched.
func LoadFile(path string, cfg Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if fc.HTTPAddr != "" {
		cfg.HTTPAddr = fc.HTTPAddr
	}
	if fc.StorageDriver != "" {
		cfg.StorageDriver = fc.StorageDriver
	}
	if fc.PostgresDSN != "" {
		cfg.PostgresDSN = fc.PostgresDSN
	}
	if fc.DurableDriver != "" {
		cfg.DurableDriver = fc.DurableDriver
	}
	if fc.TemporalHostPort != "" {
		cfg.TemporalHostPort = fc.TemporalHostPort
	}
	if fc.TemporalNamespace != "" {
		cfg.TemporalNamespace = fc.TemporalNamespace
	}
	if fc.GitHubToken != "" {
		cfg.GitHubToken = fc.GitHubToken
	}
	if fc.DefaultRepoURL != "" {
		cfg.DefaultRepoURL = fc.DefaultRepoURL
	}
	if fc.WorkerTaskConcurrency != 0 {
		cfg.WorkerTaskConcurrency = fc.WorkerTaskConcurrency
	}
	if fc.EventBusDriver != "" {
		cfg.EventBusDriver = fc.EventBusDriver
	}
	if fc.RedisURL != "" {
		cfg.RedisURL = fc.RedisURL
	}
	return cfg, nil
}

// FromEnv builds a Config from the process environment, applying
// Default()'s values for anything unset.
func FromEnv() (Config, error) {
	c := Default()

	if path := os.Getenv("MAINLOOPD_CONFIG_FILE"); path != "" {
		var err error
		if c, err = LoadFile(path, c); err != nil {
			return Config{}, err
		}
	}

	c.HTTPAddr = getString("MAINLOOPD_HTTP_ADDR", c.HTTPAddr)

	c.StorageDriver = getString("MAINLOOPD_STORAGE_DRIVER", c.StorageDriver)
	c.PostgresDSN = getString("MAINLOOPD_POSTGRES_DSN", c.PostgresDSN)

	c.DurableDriver = getString("MAINLOOPD_DURABLE_DRIVER", c.DurableDriver)
	c.TemporalHostPort = getString("MAINLOOPD_TEMPORAL_HOST_PORT", c.TemporalHostPort)
	c.TemporalNamespace = getString("MAINLOOPD_TEMPORAL_NAMESPACE", c.TemporalNamespace)

	c.GitHubToken = getString("MAINLOOPD_GITHUB_TOKEN", c.GitHubToken)
	c.DefaultRepoURL = getString("MAINLOOPD_DEFAULT_REPO_URL", c.DefaultRepoURL)
	c.EventBusDriver = getString("MAINLOOPD_EVENTBUS_DRIVER", c.EventBusDriver)
	c.RedisURL = getString("MAINLOOPD_REDIS_URL", c.RedisURL)

	var err error
	if c.WorkerTaskConcurrency, err = getInt("MAINLOOPD_WORKER_TASK_CONCURRENCY", c.WorkerTaskConcurrency); err != nil {
		return Config{}, err
	}
	if c.GitHub.RequestsPerSecond, err = getFloat("MAINLOOPD_GITHUB_RPS", c.GitHub.RequestsPerSecond); err != nil {
		return Config{}, err
	}
	if c.GitHub.Burst, err = getInt("MAINLOOPD_GITHUB_BURST", c.GitHub.Burst); err != nil {
		return Config{}, err
	}

	if c.Worker.MaxJobRetries, err = getInt("MAINLOOPD_MAX_JOB_RETRIES", c.Worker.MaxJobRetries); err != nil {
		return Config{}, err
	}
	if c.Worker.MaxCIIterations, err = getInt("MAINLOOPD_MAX_CI_ITERATIONS", c.Worker.MaxCIIterations); err != nil {
		return Config{}, err
	}
	if c.Worker.PRPollInterval, err = getDuration("MAINLOOPD_PR_POLL_INTERVAL", c.Worker.PRPollInterval); err != nil {
		return Config{}, err
	}
	if c.Worker.JobResultTimeout, err = getDuration("MAINLOOPD_JOB_RESULT_TIMEOUT", c.Worker.JobResultTimeout); err != nil {
		return Config{}, err
	}
	if c.Worker.UserWaitTimeout, err = getDuration("MAINLOOPD_USER_WAIT_TIMEOUT", c.Worker.UserWaitTimeout); err != nil {
		return Config{}, err
	}
	if c.Worker.MaxReviewWallClock, err = getDuration("MAINLOOPD_MAX_REVIEW_WALLCLOCK", c.Worker.MaxReviewWallClock); err != nil {
		return Config{}, err
	}
	c.Worker.AgentHandle = getString("MAINLOOPD_AGENT_HANDLE", c.Worker.AgentHandle)

	if c.StorageDriver == "postgres" && c.PostgresDSN == "" {
		return Config{}, fmt.Errorf("config: MAINLOOPD_POSTGRES_DSN is required when MAINLOOPD_STORAGE_DRIVER=postgres")
	}
	if c.DurableDriver == "temporal" && c.TemporalHostPort == "" {
		return Config{}, fmt.Errorf("config: MAINLOOPD_TEMPORAL_HOST_PORT is required when MAINLOOPD_DURABLE_DRIVER=temporal")
	}
	if c.EventBusDriver == "redis" && c.RedisURL == "" {
		return Config{}, fmt.Errorf("config: MAINLOOPD_REDIS_URL is required when MAINLOOPD_EVENTBUS_DRIVER=redis")
	}
	return c, nil
}

// Default returns Config with every tunable at the value SPEC_FULL.md
// names as its default.
func Default() Config {
	return Config{
		HTTPAddr:              ":8080",
		StorageDriver:         "memory",
		DurableDriver:         "memory",
		TemporalNamespace:     "default",
		WorkerTaskConcurrency: 3,
		EventBusDriver:        "memory",
		GitHub:                github.Config{RequestsPerSecond: 5, Burst: 10, BreakerName: "github-forge"},
		Worker:                worker.DefaultConfig(),
	}
}

func getString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, def float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
