package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/wpdocker/wp-docker/cmd/internal/docker"
	"github.com/wpdocker/wp-docker/pkg/constants"
)

// lsjsonItem is one element of the output of rclone lsjson
type lsjsonItem struct {
	Path    string `json:"Path"`
	Name    string `json:"Name"`
	Size    int64  `json:"Size"`
	ModTime string `json:"ModTime"`
	IsDir   bool   `json:"IsDir"`
}

var modTimeLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05Z07:00",
}

// Rclone runs rclone inside the helper container
type Rclone struct {
	log        *slog.Logger
	runtime    docker.Runtime
	container  string
	configPath string

	startAttempts uint
	startDelay    time.Duration
}

// RcloneConfig configures the helper container access
type RcloneConfig struct {
	Container  string
	ConfigPath string
	// StartAttempts is the number of running checks after a start of the helper container
	StartAttempts uint
	StartDelay    time.Duration
}

// NewRclone returns an rclone runner for the helper container
func NewRclone(log *slog.Logger, runtime docker.Runtime, config RcloneConfig) *Rclone {
	if config.Container == "" {
		config.Container = constants.RcloneContainerName
	}
	if config.ConfigPath == "" {
		config.ConfigPath = constants.RcloneConfigFile
	}
	if config.StartAttempts == 0 {
		config.StartAttempts = 10
	}
	if config.StartDelay == 0 {
		config.StartDelay = time.Second
	}

	return &Rclone{
		log:           log,
		runtime:       runtime,
		container:     config.Container,
		configPath:    config.ConfigPath,
		startAttempts: config.StartAttempts,
		startDelay:    config.StartDelay,
	}
}

// EnsureRunning starts the helper container once if it is not running and waits for it to come up
func (r *Rclone) EnsureRunning(ctx context.Context) error {
	running, err := r.runtime.IsRunning(ctx, r.container)
	if err != nil {
		return fmt.Errorf("could not inspect rclone container %q: %w", r.container, err)
	}
	if running {
		return nil
	}

	r.log.Warn("rclone container is not running, starting it", "container", r.container)

	if err := r.runtime.Start(ctx, r.container); err != nil {
		return fmt.Errorf("could not start rclone container %q: %w", r.container, err)
	}

	err = retry.Do(func() error {
		running, err := r.runtime.IsRunning(ctx, r.container)
		if err != nil {
			return err
		}
		if !running {
			return fmt.Errorf("container %q is not running", r.container)
		}
		return nil
	}, retry.Context(ctx), retry.Attempts(r.startAttempts), retry.Delay(r.startDelay), retry.DelayType(retry.FixedDelay), retry.LastErrorOnly(true))
	if err != nil {
		return fmt.Errorf("rclone container %q did not come up: %w", r.container, err)
	}

	return nil
}

// Run executes rclone with the given arguments and returns its output
func (r *Rclone) Run(ctx context.Context, args ...string) (string, error) {
	cmd := append([]string{"rclone", "--config", r.configPath}, args...)

	r.log.Debug("running rclone", "container", r.container, "args", args)

	out, err := r.runtime.Exec(ctx, r.container, cmd, docker.ExecOptions{})
	if err != nil {
		return out, fmt.Errorf("rclone %s failed: %w", args[0], err)
	}
	return out, nil
}

// Mkdir creates every segment of the given path on the remote
func (r *Rclone) Mkdir(ctx context.Context, remote string, segments ...string) error {
	current := ""
	for _, s := range segments {
		if current == "" {
			current = s
		} else {
			current = current + "/" + s
		}

		_, err := r.Run(ctx, "mkdir", remote+":"+current)
		if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
			return fmt.Errorf("could not create directory %q on remote %q: %w", current, remote, err)
		}
	}
	return nil
}

// List returns the lsjson items of the given remote path, a missing directory lists as empty
func (r *Rclone) List(ctx context.Context, remotePath string, flags ...string) ([]lsjsonItem, error) {
	args := append([]string{"lsjson", remotePath}, flags...)
	out, err := r.Run(ctx, args...)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	if strings.TrimSpace(out) == "" {
		return nil, nil
	}

	var items []lsjsonItem
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		return nil, fmt.Errorf("could not parse rclone listing of %q: %w", remotePath, err)
	}
	return items, nil
}

// ListRemotes returns the names of all remotes configured in the rclone config
func (r *Rclone) ListRemotes(ctx context.Context) ([]string, error) {
	if err := r.EnsureRunning(ctx); err != nil {
		return nil, err
	}

	out, err := r.Run(ctx, "listremotes")
	if err != nil {
		return nil, err
	}

	var remotes []string
	for line := range strings.Lines(out) {
		name := strings.TrimSuffix(strings.TrimSpace(line), ":")
		if name != "" {
			remotes = append(remotes, name)
		}
	}
	return remotes, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}

func parseModTime(raw string, now func() time.Time) time.Time {
	for _, layout := range modTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return now()
}
