package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// KubernetesDriver is the pod-orchestrator Runtime Driver variant (§4.2). It
// talks to the Kubernetes API server directly over REST, built on
// net/http and encoding/json exactly as the raw Kubernetes REST API expects
// (see DESIGN.md for why no client library is used here).
type KubernetesDriver struct {
	apiServer string
	namespace string
	token     string
	hc        *http.Client
}

func NewKubernetesDriver(apiServer, namespace, bearerToken string) *KubernetesDriver {
	return &KubernetesDriver{
		apiServer: strings.TrimRight(apiServer, "/"),
		namespace: namespace,
		token:     bearerToken,
		hc:        &http.Client{Timeout: 30 * time.Second},
	}
}

func (k *KubernetesDriver) deploymentsURL(name string) string {
	base := fmt.Sprintf("%s/apis/apps/v1/namespaces/%s/deployments", k.apiServer, k.namespace)
	if name == "" {
		return base
	}
	return base + "/" + name
}

func (k *KubernetesDriver) podsURL(labelSelector string) string {
	return fmt.Sprintf("%s/api/v1/namespaces/%s/pods?labelSelector=%s", k.apiServer, k.namespace, labelSelector)
}

func (k *KubernetesDriver) do(ctx context.Context, method, url string, body []byte, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if k.token != "" {
		req.Header.Set("Authorization", "Bearer "+k.token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	return k.hc.Do(req)
}

type k8sEnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type k8sDeployment struct {
	Metadata k8sObjectMeta `json:"metadata"`
	Spec     k8sDeploySpec `json:"spec"`
	Status   k8sDeployStatus `json:"status,omitempty"`
}

type k8sObjectMeta struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
}

type k8sDeploySpec struct {
	Replicas int32              `json:"replicas"`
	Selector k8sLabelSelector   `json:"selector"`
	Template k8sPodTemplateSpec `json:"template"`
}

type k8sLabelSelector struct {
	MatchLabels map[string]string `json:"matchLabels"`
}

type k8sPodTemplateSpec struct {
	Metadata k8sObjectMeta `json:"metadata"`
	Spec     k8sPodSpec    `json:"spec"`
}

type k8sPodSpec struct {
	Containers []k8sContainer `json:"containers"`
}

type k8sContainer struct {
	Name  string      `json:"name"`
	Image string      `json:"image"`
	Env   []k8sEnvVar `json:"env,omitempty"`
}

type k8sDeployStatus struct {
	Replicas          int32 `json:"replicas"`
	ReadyReplicas     int32 `json:"readyReplicas"`
	AvailableReplicas int32 `json:"availableReplicas"`
	Conditions        []k8sDeployCondition `json:"conditions,omitempty"`
}

type k8sDeployCondition struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

func (k *KubernetesDriver) envFor(spec StreamSpec) []k8sEnvVar {
	env := []k8sEnvVar{
		{Name: "STREAM_ID", Value: spec.ID},
		{Name: "STREAM_SOURCE", Value: spec.Source},
		{Name: "STREAM_ORIENTATION_DEG", Value: formatFloat(spec.OrientationDeg)},
		{Name: "STREAM_VIEW_ANGLE_DEG", Value: formatFloat(spec.ViewAngleDeg)},
		{Name: "STREAM_VIEW_DISTANCE_M", Value: formatFloat(spec.ViewDistanceM)},
		{Name: "STREAM_TILT_DEG", Value: formatFloat(spec.TiltDeg)},
		{Name: "STREAM_MOUNT_HEIGHT_M", Value: formatFloat(spec.MountHeightM)},
		{Name: "STREAM_GRID_SIZE_PX", Value: strconv.Itoa(spec.GridSizePx)},
		{Name: "STREAM_WINDOW_RADIUS_PX", Value: strconv.Itoa(spec.WindowRadiusPx)},
		{Name: "STREAM_MAGNITUDE_THRESHOLD", Value: formatFloat(spec.MagnitudeThresh)},
		{Name: "STREAM_ARROW_SCALE", Value: formatFloat(spec.ArrowScale)},
		{Name: "STREAM_ARROW_OPACITY_PCT", Value: formatFloat(spec.ArrowOpacityPct)},
		{Name: "STREAM_GRADIENT_INTENSITY", Value: formatFloat(spec.GradientIntensity)},
		{Name: "STREAM_RULER_OPACITY_PCT", Value: formatFloat(spec.RulerOpacityPct)},
		{Name: "STREAM_SHOW_RAW_FEED", Value: strconv.FormatBool(spec.ShowRawFeed)},
		{Name: "STREAM_SHOW_ARROWS", Value: strconv.FormatBool(spec.ShowArrows)},
		{Name: "STREAM_SHOW_MAGNITUDE", Value: strconv.FormatBool(spec.ShowMagnitude)},
		{Name: "STREAM_SHOW_TRAILS", Value: strconv.FormatBool(spec.ShowTrails)},
		{Name: "STREAM_SHOW_PERSPECTIVE_RULER", Value: strconv.FormatBool(spec.ShowPerspectiveRuler)},
		{Name: "STREAM_PREVIEW_FPS", Value: formatFloat(spec.SettingsFPS)},
		{Name: "PUBSUB_ADDR", Value: spec.PubSubAddr},
		{Name: "METRICS_URL", Value: spec.MetricsURL},
		{Name: "DATABASE_RO", Value: spec.DatabaseRO},
	}
	if spec.Latitude != nil {
		env = append(env, k8sEnvVar{Name: "STREAM_LATITUDE", Value: formatFloat(*spec.Latitude)})
	}
	if spec.Longitude != nil {
		env = append(env, k8sEnvVar{Name: "STREAM_LONGITUDE", Value: formatFloat(*spec.Longitude)})
	}
	return env
}

// Start creates (or, if already present, leaves alone) a single-replica
// Deployment named worker-<stream-id>. Idempotent per §4.2.
func (k *KubernetesDriver) Start(ctx context.Context, spec StreamSpec) (string, error) {
	handle := HandleFor(spec.ID)

	resp, err := k.do(ctx, http.MethodGet, k.deploymentsURL(handle), nil, "")
	if err != nil {
		return "", NewTransientError("kube get deployment failed", err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return handle, nil
	}

	replicas := int32(1)
	dep := k8sDeployment{
		Metadata: k8sObjectMeta{Name: handle, Labels: map[string]string{"app": handle, "flowplane.stream_id": spec.ID}},
		Spec: k8sDeploySpec{
			Replicas: replicas,
			Selector: k8sLabelSelector{MatchLabels: map[string]string{"app": handle}},
			Template: k8sPodTemplateSpec{
				Metadata: k8sObjectMeta{Labels: map[string]string{"app": handle}},
				Spec: k8sPodSpec{
					Containers: []k8sContainer{{
						Name:  "worker",
						Image: spec.WorkerImage,
						Env:   k.envFor(spec),
					}},
				},
			},
		},
	}
	body, err := json.Marshal(dep)
	if err != nil {
		return "", NewPermanentError("marshal deployment spec failed", err)
	}

	resp, err = k.do(ctx, http.MethodPost, k.deploymentsURL(""), body, "application/json")
	if err != nil {
		return "", NewTransientError("kube create deployment failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return "", NewPermanentError(fmt.Sprintf("kube create deployment: status %d: %s", resp.StatusCode, msg), nil)
	}
	return handle, nil
}

// Stop deletes the Deployment. Idempotent: a missing deployment is a
// successful no-op per §4.2.
func (k *KubernetesDriver) Stop(ctx context.Context, handle string) error {
	resp, err := k.do(ctx, http.MethodDelete, k.deploymentsURL(handle), nil, "")
	if err != nil {
		return NewTransientError("kube delete deployment failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		msg, _ := io.ReadAll(resp.Body)
		return NewTransientError(fmt.Sprintf("kube delete deployment: status %d: %s", resp.StatusCode, msg), nil)
	}
	return nil
}

func (k *KubernetesDriver) Inspect(ctx context.Context, handle string) (InspectResult, error) {
	resp, err := k.do(ctx, http.MethodGet, k.deploymentsURL(handle), nil, "")
	if err != nil {
		return InspectResult{}, NewTransientError("kube get deployment failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return InspectResult{State: StateMissing}, nil
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return InspectResult{}, NewTransientError(fmt.Sprintf("kube get deployment: status %d: %s", resp.StatusCode, msg), nil)
	}

	var dep k8sDeployment
	if err := json.NewDecoder(resp.Body).Decode(&dep); err != nil {
		return InspectResult{}, NewTransientError("kube decode deployment failed", err)
	}

	res := InspectResult{}
	switch {
	case dep.Status.AvailableReplicas > 0:
		res.State = StateRunning
	case dep.Status.Replicas > 0:
		res.State = StateStarting
	default:
		res.State = StateExited
	}
	for _, c := range dep.Status.Conditions {
		if c.Status == "False" && c.Reason != "" {
			res.LastError = c.Reason + ": " + c.Message
		}
	}
	return res, nil
}

// Tail fetches recent log lines from the first pod matching the
// deployment's label selector via the pods/log subresource.
func (k *KubernetesDriver) Tail(ctx context.Context, handle string, nLines int) ([]string, error) {
	if nLines <= 0 {
		nLines = 100
	}

	resp, err := k.do(ctx, http.MethodGet, k.podsURL("app%3D"+handle), nil, "")
	if err != nil {
		return nil, NewTransientError("kube list pods failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}

	var podList struct {
		Items []struct {
			Metadata k8sObjectMeta `json:"metadata"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&podList); err != nil {
		return nil, NewTransientError("kube decode pod list failed", err)
	}
	if len(podList.Items) == 0 {
		return nil, nil
	}
	podName := podList.Items[0].Metadata.Name

	logURL := fmt.Sprintf("%s/api/v1/namespaces/%s/pods/%s/log?tailLines=%d",
		k.apiServer, k.namespace, podName, nLines)
	logResp, err := k.do(ctx, http.MethodGet, logURL, nil, "")
	if err != nil {
		return nil, NewTransientError("kube fetch pod log failed", err)
	}
	defer logResp.Body.Close()
	if logResp.StatusCode != http.StatusOK {
		return nil, nil
	}

	data, err := io.ReadAll(logResp.Body)
	if err != nil {
		return nil, NewTransientError("kube read pod log failed", err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n"), nil
}
