// ABOUTME: Thin wrapper over the docker CLI: build, run, inspect, logs, port, exec, teardown.
// ABOUTME: Every operation is a blocking external process returning exit code and output.
package dockercli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Client invokes the container runtime binary (docker by default; podman
// works unchanged for the subset used here).
type Client struct {
	run CommandRunner
	bin string
}

// NewClient creates a Client using the real exec runner.
func NewClient() *Client {
	return &Client{run: ExecRunner{}, bin: "docker"}
}

// NewClientWith creates a Client with a custom runner and binary name.
// Tests pass fakes; operators may point bin at podman.
func NewClientWith(run CommandRunner, bin string) *Client {
	if bin == "" {
		bin = "docker"
	}
	return &Client{run: run, bin: bin}
}

// BuildOpts configures an image build.
type BuildOpts struct {
	ContextDir string
	Dockerfile string // relative to ContextDir; empty = "Dockerfile"
	Tag        string
	Memory     string // hard memory ceiling for the build, e.g. "2g"
}

// Build builds an image. Build failure is a Result with non-zero ExitCode.
func (c *Client) Build(ctx context.Context, opts BuildOpts) (Result, error) {
	args := []string{"build", "-t", opts.Tag}
	if opts.Dockerfile != "" {
		args = append(args, "-f", opts.Dockerfile)
	}
	if opts.Memory != "" {
		args = append(args, "--memory", opts.Memory)
	}
	args = append(args, opts.ContextDir)
	return c.run.Run(ctx, c.bin, args...)
}

// RunOpts configures a detached container start under constrained resources.
type RunOpts struct {
	Image     string
	Name      string
	Memory    string  // e.g. "512m"
	CPUs      float64 // e.g. 1.0; 0 = no limit
	PidsLimit int     // 0 = no limit
}

// RunDetached starts a container with no-new-privileges and all exposed
// ports published to ephemeral host ports.
func (c *Client) RunDetached(ctx context.Context, opts RunOpts) (Result, error) {
	args := []string{"run", "-d", "--name", opts.Name, "--security-opt", "no-new-privileges", "-P"}
	if opts.Memory != "" {
		args = append(args, "--memory", opts.Memory)
	}
	if opts.CPUs > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(opts.CPUs, 'f', -1, 64))
	}
	if opts.PidsLimit > 0 {
		args = append(args, "--pids-limit", strconv.Itoa(opts.PidsLimit))
	}
	args = append(args, opts.Image)
	return c.run.Run(ctx, c.bin, args...)
}

// ContainerState is the subset of docker inspect the validator acts on.
type ContainerState struct {
	Running  bool
	ExitCode int
}

// Inspect returns the container's running flag and exit code.
func (c *Client) Inspect(ctx context.Context, name string) (ContainerState, error) {
	res, err := c.run.Run(ctx, c.bin, "inspect", "--format", "{{.State.Running}} {{.State.ExitCode}}", name)
	if err != nil {
		return ContainerState{}, err
	}
	if res.ExitCode != 0 {
		return ContainerState{}, fmt.Errorf("inspect %s: %s", name, res.Stderr)
	}
	fields := strings.Fields(res.Stdout)
	if len(fields) != 2 {
		return ContainerState{}, fmt.Errorf("inspect %s: unexpected output %q", name, res.Stdout)
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return ContainerState{}, fmt.Errorf("inspect %s: bad exit code %q", name, fields[1])
	}
	return ContainerState{Running: fields[0] == "true", ExitCode: code}, nil
}

// Logs returns the container's combined log output since start.
func (c *Client) Logs(ctx context.Context, name string) (string, error) {
	res, err := c.run.Run(ctx, c.bin, "logs", name)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("logs %s: %s", name, res.Stderr)
	}
	return res.Combined(), nil
}

// Exec runs a command inside the container.
func (c *Client) Exec(ctx context.Context, name string, cmd ...string) (Result, error) {
	args := append([]string{"exec", name}, cmd...)
	return c.run.Run(ctx, c.bin, args...)
}

// HostPort resolves the host address for a published container port, e.g.
// "0.0.0.0:49153". Empty when the port is not published.
func (c *Client) HostPort(ctx context.Context, name string, containerPort int) (string, error) {
	res, err := c.run.Run(ctx, c.bin, "port", name, fmt.Sprintf("%d/tcp", containerPort))
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", nil
	}
	// docker may print one line per address family; the first suffices.
	line, _, _ := strings.Cut(res.Stdout, "\n")
	return strings.TrimSpace(line), nil
}

// RemoveContainer force-removes a container. Missing containers are not an
// error; teardown must be idempotent.
func (c *Client) RemoveContainer(ctx context.Context, name string) error {
	res, err := c.run.Run(ctx, c.bin, "rm", "-f", name)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 && !strings.Contains(res.Stderr, "No such container") {
		return fmt.Errorf("rm %s: %s", name, res.Stderr)
	}
	return nil
}

// RemoveImage force-removes an image tag.
func (c *Client) RemoveImage(ctx context.Context, tag string) error {
	res, err := c.run.Run(ctx, c.bin, "rmi", "-f", tag)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 && !strings.Contains(res.Stderr, "No such image") {
		return fmt.Errorf("rmi %s: %s", tag, res.Stderr)
	}
	return nil
}

// ImageSize returns the image size in bytes.
func (c *Client) ImageSize(ctx context.Context, tag string) (int64, error) {
	res, err := c.run.Run(ctx, c.bin, "image", "inspect", "--format", "{{.Size}}", tag)
	if err != nil {
		return 0, err
	}
	if res.ExitCode != 0 {
		return 0, fmt.Errorf("image inspect %s: %s", tag, res.Stderr)
	}
	size, err := strconv.ParseInt(strings.TrimSpace(res.Stdout), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("image inspect %s: bad size %q", tag, res.Stdout)
	}
	return size, nil
}
