// Package dockertest provides an in-memory container runtime for tests.
package dockertest

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/wpdocker/wp-docker/cmd/internal/docker"
)

// Call records one Exec invocation
type Call struct {
	Container string
	Cmd       []string
	User      string
	Env       []string
	Stdin     string
}

// Command returns the joined command line of the call
func (c Call) Command() string {
	return strings.Join(c.Cmd, " ")
}

// ExecFunc answers an Exec call, the returned stdout is streamed to ExecOptions.Stdout if set
type ExecFunc func(call Call) (stdout string, err error)

// Runtime is a fake docker.Runtime
type Runtime struct {
	mu sync.Mutex

	// Handler answers exec calls, unanswered calls succeed without output
	Handler ExecFunc
	// Running holds the running state per container
	Running map[string]bool
	// StartErr is returned by Start if set
	StartErr error
	// StartHook is called on Start after the container is marked running, e.g. to simulate a container that dies again
	StartHook func(container string)
	// ComposeErr is returned by RestartCompose if set
	ComposeErr error

	Calls    []Call
	Started  []string
	Composes []string
}

var _ docker.Runtime = &Runtime{}

// New returns a runtime where the given containers are running
func New(running ...string) *Runtime {
	r := &Runtime{Running: map[string]bool{}}
	for _, c := range running {
		r.Running[c] = true
	}
	return r
}

func (r *Runtime) Exec(_ context.Context, containerName string, cmd []string, opts docker.ExecOptions) (string, error) {
	call := Call{
		Container: containerName,
		Cmd:       cmd,
		User:      opts.User,
		Env:       opts.Env,
	}
	if opts.Stdin != nil {
		in, err := io.ReadAll(opts.Stdin)
		if err != nil {
			return "", err
		}
		call.Stdin = string(in)
	}

	r.mu.Lock()
	r.Calls = append(r.Calls, call)
	handler := r.Handler
	r.mu.Unlock()

	if handler == nil {
		return "", nil
	}

	out, err := handler(call)
	if opts.Stdout != nil {
		if _, werr := io.WriteString(opts.Stdout, out); werr != nil {
			return "", werr
		}
		return "", err
	}
	return strings.TrimSpace(out), err
}

func (r *Runtime) IsRunning(_ context.Context, containerName string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Running[containerName], nil
}

func (r *Runtime) Start(_ context.Context, containerName string) error {
	r.mu.Lock()
	r.Started = append(r.Started, containerName)
	if r.StartErr != nil {
		r.mu.Unlock()
		return r.StartErr
	}
	r.Running[containerName] = true
	hook := r.StartHook
	r.mu.Unlock()

	if hook != nil {
		hook(containerName)
	}
	return nil
}

func (r *Runtime) RestartCompose(_ context.Context, composeFile string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Composes = append(r.Composes, composeFile)
	return r.ComposeErr
}

// SetRunning changes the running state of a container
func (r *Runtime) SetRunning(containerName string, running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Running[containerName] = running
}

// CallsTo returns all exec calls to the given container
func (r *Runtime) CallsTo(containerName string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Call
	for _, c := range r.Calls {
		if c.Container == containerName {
			result = append(result, c)
		}
	}
	return result
}
