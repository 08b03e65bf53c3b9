// Package docker implements runtime.Driver against the Docker Engine API.
// Grounded on the teacher's pkg/worker/containerRuntime/docker.DockerRuntime
// (image list/pull, ContainerCreate/Start/Stop/Inspect patterns), adapted
// from the spec's create/start/pause/resume/remove/inspect/list contract
// and from the gRPC-typed Start/Stop/Status surface to plain Go types.
package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"

	"github.com/esb-platform/esb/pkg/orchestrator/runtime"
	"github.com/esb-platform/esb/pkg/retry"
)

var forbiddenChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

const containerPrefix = "esb-fn-"

// Runtime implements runtime.Driver over a Docker Engine connection.
type Runtime struct {
	cli        *client.Client
	network    string
	autoRemove bool
	logger     *slog.Logger
}

// New connects to the local Docker daemon over its Unix socket.
func New(network string, autoRemove bool, logger *slog.Logger) (*Runtime, error) {
	cli, err := client.NewClientWithOpts(
		client.WithHost("unix:///var/run/docker.sock"),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to docker: %w", err)
	}
	return &Runtime{cli: cli, network: network, autoRemove: autoRemove, logger: logger}, nil
}

func (r *Runtime) EnsureImage(ctx context.Context, ref string) error {
	args := filters.NewArgs()
	args.Add("reference", ref)
	images, err := r.cli.ImageList(ctx, image.ListOptions{Filters: args})
	if err != nil {
		return fmt.Errorf("list images: %w", err)
	}
	if len(images) > 0 {
		return nil
	}

	r.logger.Info("pulling image", "image", ref)
	_, err = retry.Do(ctx, 3, time.Second, func() (struct{}, error) {
		reader, err := r.cli.ImagePull(ctx, ref, image.PullOptions{})
		if err != nil {
			return struct{}{}, err
		}
		defer reader.Close()
		_, _ = io.Copy(io.Discard, reader)
		return struct{}{}, nil
	})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	return nil
}

func (r *Runtime) Create(ctx context.Context, spec runtime.Spec) (string, error) {
	name := containerPrefix + forbiddenChars.ReplaceAllString(spec.Image, "") + "-" + uuid.New().String()[:8]

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	exposedPort := spec.ExposedPort
	if exposedPort == "" {
		exposedPort = "8080/tcp"
	}
	portSet, portBindings, err := nat.ParsePortSpecs([]string{exposedPort})
	if err != nil {
		return "", fmt.Errorf("parse port spec: %w", err)
	}
	_ = portBindings

	networkMode := container.NetworkMode("bridge")
	if r.network != "" {
		networkMode = container.NetworkMode(r.network)
	}

	hostPortBindings := nat.PortMap{}
	for p := range portSet {
		bindings := []nat.PortBinding{{HostIP: "0.0.0.0"}}
		if spec.HostPort != 0 {
			bindings[0].HostPort = fmt.Sprintf("%d", spec.HostPort)
		}
		hostPortBindings[p] = bindings
	}

	resp, err := r.cli.ContainerCreate(ctx, &container.Config{
		Image:        spec.Image,
		Env:          env,
		Labels:       spec.Labels,
		ExposedPorts: portSet,
	}, &container.HostConfig{
		AutoRemove:   r.autoRemove,
		NetworkMode:  networkMode,
		PortBindings: hostPortBindings,
	}, &network.NetworkingConfig{}, nil, name)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	return resp.ID, nil
}

func (r *Runtime) Start(ctx context.Context, id string) error {
	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return mapErr(err)
	}
	return nil
}

func (r *Runtime) Pause(ctx context.Context, id string) error {
	if err := r.cli.ContainerPause(ctx, id); err != nil {
		return mapErr(err)
	}
	return nil
}

func (r *Runtime) Resume(ctx context.Context, id string) error {
	if err := r.cli.ContainerUnpause(ctx, id); err != nil {
		return mapErr(err)
	}
	return nil
}

func (r *Runtime) Remove(ctx context.Context, id string, force bool) error {
	if err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: force}); err != nil {
		return mapErr(err)
	}
	return nil
}

func (r *Runtime) Inspect(ctx context.Context, id string) (runtime.Info, error) {
	inspect, err := r.cli.ContainerInspect(ctx, id)
	if err != nil {
		return runtime.Info{}, mapErr(err)
	}

	info := runtime.Info{
		ID:     inspect.ID,
		State:  stateFrom(inspect.State),
		Labels: inspect.Config.Labels,
	}
	if inspect.NetworkSettings != nil {
		for _, bindings := range inspect.NetworkSettings.Ports {
			if len(bindings) > 0 {
				info.Address = fmt.Sprintf("127.0.0.1:%s", bindings[0].HostPort)
				break
			}
		}
	}
	return info, nil
}

func (r *Runtime) List(ctx context.Context, labelSelector map[string]string) ([]runtime.Info, error) {
	args := filters.NewArgs()
	for k, v := range labelSelector {
		args.Add("label", fmt.Sprintf("%s=%s", k, v))
	}
	containers, err := r.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	out := make([]runtime.Info, 0, len(containers))
	for _, c := range containers {
		info, err := r.Inspect(ctx, c.ID)
		if err != nil {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

func stateFrom(s *container.State) runtime.ContainerState {
	if s == nil {
		return runtime.StateUnknown
	}
	switch {
	case s.Paused:
		return runtime.StatePaused
	case s.Running:
		return runtime.StateRunning
	case s.Status == "exited" || s.Status == "dead":
		return runtime.StateExited
	default:
		return runtime.StateUnknown
	}
}

func mapErr(err error) error {
	if client.IsErrNotFound(err) {
		return runtime.ErrNotFound
	}
	if os.IsExist(err) {
		return runtime.ErrConflict
	}
	return err
}
