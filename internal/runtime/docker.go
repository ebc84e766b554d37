package runtime

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
	"github.com/rs/zerolog/log"
)

// DockerDriver is the container-daemon Runtime Driver variant (§4.2).
// Container names are deterministic (worker-<stream-id>) and doubly serve
// as the handle.
type DockerDriver struct {
	cli           *dockerclient.Client
	pubSubAddr    string
	metricsURL    string
	databaseRO    string
	networkName   string
}

// NewDockerDriver connects to the local Docker daemon over its default
// socket/host resolution (DOCKER_HOST env, or the platform default).
func NewDockerDriver(pubSubAddr, metricsURL, databaseRO, networkName string) (*DockerDriver, error) {
	cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &DockerDriver{
		cli:         cli,
		pubSubAddr:  pubSubAddr,
		metricsURL:  metricsURL,
		databaseRO:  databaseRO,
		networkName: networkName,
	}, nil
}

func (d *DockerDriver) envFor(spec StreamSpec) []string {
	env := []string{
		"STREAM_ID=" + spec.ID,
		"STREAM_SOURCE=" + spec.Source,
		"STREAM_ORIENTATION_DEG=" + formatFloat(spec.OrientationDeg),
		"STREAM_VIEW_ANGLE_DEG=" + formatFloat(spec.ViewAngleDeg),
		"STREAM_VIEW_DISTANCE_M=" + formatFloat(spec.ViewDistanceM),
		"STREAM_TILT_DEG=" + formatFloat(spec.TiltDeg),
		"STREAM_MOUNT_HEIGHT_M=" + formatFloat(spec.MountHeightM),
		"STREAM_GRID_SIZE_PX=" + strconv.Itoa(spec.GridSizePx),
		"STREAM_WINDOW_RADIUS_PX=" + strconv.Itoa(spec.WindowRadiusPx),
		"STREAM_MAGNITUDE_THRESHOLD=" + formatFloat(spec.MagnitudeThresh),
		"STREAM_ARROW_SCALE=" + formatFloat(spec.ArrowScale),
		"STREAM_ARROW_OPACITY_PCT=" + formatFloat(spec.ArrowOpacityPct),
		"STREAM_GRADIENT_INTENSITY=" + formatFloat(spec.GradientIntensity),
		"STREAM_RULER_OPACITY_PCT=" + formatFloat(spec.RulerOpacityPct),
		"STREAM_SHOW_RAW_FEED=" + strconv.FormatBool(spec.ShowRawFeed),
		"STREAM_SHOW_ARROWS=" + strconv.FormatBool(spec.ShowArrows),
		"STREAM_SHOW_MAGNITUDE=" + strconv.FormatBool(spec.ShowMagnitude),
		"STREAM_SHOW_TRAILS=" + strconv.FormatBool(spec.ShowTrails),
		"STREAM_SHOW_PERSPECTIVE_RULER=" + strconv.FormatBool(spec.ShowPerspectiveRuler),
		"STREAM_PREVIEW_FPS=" + formatFloat(spec.SettingsFPS),
		"PUBSUB_ADDR=" + spec.PubSubAddr,
		"METRICS_URL=" + spec.MetricsURL,
		"DATABASE_RO=" + spec.DatabaseRO,
	}
	if spec.Latitude != nil {
		env = append(env, "STREAM_LATITUDE="+formatFloat(*spec.Latitude))
	}
	if spec.Longitude != nil {
		env = append(env, "STREAM_LONGITUDE="+formatFloat(*spec.Longitude))
	}
	return env
}

// Start is idempotent: if a container named worker-<id> already exists and
// is running, its handle is returned without creating a new one.
func (d *DockerDriver) Start(ctx context.Context, spec StreamSpec) (string, error) {
	handle := HandleFor(spec.ID)

	existing, err := d.cli.ContainerInspect(ctx, handle)
	if err == nil && existing.State != nil && existing.State.Running {
		return handle, nil
	}
	if err == nil {
		// exists but not running: remove and recreate cleanly
		_ = d.cli.ContainerRemove(ctx, handle, container.RemoveOptions{Force: true})
	}

	cfg := &container.Config{
		Image: spec.WorkerImage,
		Env:   d.envFor(spec),
		Labels: map[string]string{
			"flowplane.stream_id": spec.ID,
		},
	}
	hostCfg := &container.HostConfig{
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
	}
	var netCfg *network.NetworkingConfig
	if d.networkName != "" {
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				d.networkName: {},
			},
		}
	}

	created, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, handle)
	if err != nil {
		return "", NewPermanentError("container create failed", err)
	}
	if err := d.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", NewTransientError("container start failed", err)
	}
	log.Info().Str("handle", handle).Str("image", spec.WorkerImage).Msg("docker driver: worker started")
	return handle, nil
}

// Stop is idempotent: stopping a missing handle succeeds.
func (d *DockerDriver) Stop(ctx context.Context, handle string) error {
	timeout := 10
	err := d.cli.ContainerStop(ctx, handle, container.StopOptions{Timeout: &timeout})
	if err != nil && !isNotFound(err) {
		return NewTransientError("container stop failed", err)
	}
	if err := d.cli.ContainerRemove(ctx, handle, container.RemoveOptions{Force: true}); err != nil && !isNotFound(err) {
		log.Warn().Err(err).Str("handle", handle).Msg("docker driver: best-effort remove failed")
	}
	return nil
}

func (d *DockerDriver) Inspect(ctx context.Context, handle string) (InspectResult, error) {
	info, err := d.cli.ContainerInspect(ctx, handle)
	if err != nil {
		if isNotFound(err) {
			return InspectResult{State: StateMissing}, nil
		}
		return InspectResult{}, NewTransientError("container inspect failed", err)
	}

	var started time.Time
	if info.State != nil {
		started, _ = time.Parse(time.RFC3339Nano, info.State.StartedAt)
	}

	res := InspectResult{StartedAt: started}
	switch {
	case info.State == nil:
		res.State = StateMissing
	case info.State.Running:
		res.State = StateRunning
	case info.State.Status == "created" || info.State.Restarting:
		res.State = StateStarting
	default:
		res.State = StateExited
		if info.State.Error != "" {
			res.LastError = info.State.Error
		}
	}
	return res, nil
}

func (d *DockerDriver) Tail(ctx context.Context, handle string, nLines int) ([]string, error) {
	if nLines <= 0 {
		nLines = 100
	}
	rc, err := d.cli.ContainerLogs(ctx, handle, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(nLines),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, NewTransientError("container logs failed", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, NewTransientError("container logs read failed", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > nLines {
		lines = lines[len(lines)-nLines:]
	}
	return lines, nil
}

func isNotFound(err error) bool {
	return dockerclient.IsErrNotFound(err)
}
