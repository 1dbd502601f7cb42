// Package docker shells out to the docker and docker-compose CLIs. The
// player and project container groups are described by compose templates on
// disk; everything else is plain docker subcommands against named
// containers.
package docker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kyaraben/kyaraben/internal/config"
	"github.com/kyaraben/kyaraben/internal/proc"
)

// Client runs docker commands against one daemon.
type Client struct {
	cfg config.DockerConfig
	// Tempdir stages files for container-to-container copies.
	Tempdir string
}

// New returns a client for the configured daemon.
func New(cfg config.DockerConfig, tempdir string) *Client {
	return &Client{cfg: cfg, Tempdir: tempdir}
}

// AdbContainer is the name of the adb sidecar of an AVM.
func AdbContainer(avmID string) string {
	return avmID + "_adb"
}

// PrjContainer is the name of the project data container.
func PrjContainer(projectID string) string {
	return projectID + "_prjdata"
}

// env builds the subprocess environment. The docker CLI needs PATH and the
// daemon address; extra holds the compose variable projection.
func (c *Client) env(extra map[string]string) []string {
	out := []string{"PATH=" + os.Getenv("PATH")}
	if c.cfg.Host != "" {
		out = append(out, "DOCKER_HOST="+c.cfg.Host)
	}
	if c.cfg.TLSVerify {
		out = append(out, "DOCKER_TLS_VERIFY=1")
	}
	for k, v := range extra {
		out = append(out, k+"="+v)
	}
	return out
}

// Docker runs one docker subcommand.
func (c *Client) Docker(ctx context.Context, args ...string) (*proc.Result, error) {
	return proc.Run(ctx, append([]string{"docker"}, args...), &proc.Options{
		Env:   c.env(nil),
		Strip: true,
	})
}

// Exec runs a command inside a container.
func (c *Client) Exec(ctx context.Context, container string, args ...string) (*proc.Result, error) {
	cmdline := append([]string{"docker", "exec", container}, args...)
	return proc.Run(ctx, cmdline, &proc.Options{
		Env:   c.env(nil),
		Strip: true,
	})
}

// ExecStdin runs a command inside a container feeding it stdin.
func (c *Client) ExecStdin(ctx context.Context, container string, stdin []byte, args ...string) (*proc.Result, error) {
	cmdline := append([]string{"docker", "exec", "-i", container}, args...)
	return proc.Run(ctx, cmdline, &proc.Options{
		Env:        c.env(nil),
		Strip:      true,
		StdinBytes: stdin,
	})
}

// Run starts a named one-shot container from an image, feeding it stdin.
// The container is left around for later docker cp; callers remove it.
func (c *Client) Run(ctx context.Context, name, image string, stdin []byte, args ...string) (*proc.Result, error) {
	cmdline := append([]string{"docker", "run", "--name", name, "-i", "--restart=no", image}, args...)
	return proc.Run(ctx, cmdline, &proc.Options{
		Env:        c.env(nil),
		Strip:      true,
		StdinBytes: stdin,
	})
}

// InspectPort returns the host port a published container port is mapped to.
func (c *Client) InspectPort(ctx context.Context, container, port string) (string, error) {
	format := fmt.Sprintf(`{{(index (index .NetworkSettings.Ports "%s") 0).HostPort}}`, port)
	result, err := c.Docker(ctx, "inspect", "--format", format, container)
	if err != nil {
		return "", err
	}
	return result.Out(), nil
}

// Remove force-removes a container.
func (c *Client) Remove(ctx context.Context, container string) error {
	_, err := c.Docker(ctx, "rm", "-f", container)
	return err
}

// CopyBetween moves a file from one container to another, staging through
// the host temp directory. docker cp cannot address two containers at once.
func (c *Client) CopyBetween(ctx context.Context, fromContainer, fromFile, toContainer, toFile string) error {
	localDir, err := os.MkdirTemp(c.Tempdir, "dockercp")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(localDir)

	localFile := filepath.Join(localDir, "file")
	if _, err := c.Docker(ctx, "cp", fromContainer+":"+fromFile, localFile); err != nil {
		return err
	}
	if _, err := c.Docker(ctx, "cp", localFile, toContainer+":"+toFile); err != nil {
		return err
	}
	return nil
}

// compose runs docker-compose against a template in the compose directory.
func (c *Client) compose(ctx context.Context, env map[string]string, args ...string) error {
	_, err := proc.Run(ctx, append([]string{"docker-compose"}, args...), &proc.Options{
		Env:   c.env(env),
		Dir:   c.cfg.ComposeDir,
		Strip: true,
	})
	return err
}
