package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cascade-labs/cascade-go/internal/platform/k8s"
)

const (
	nodeSelectorMachineClass = "cascade.io/machine-class"
	annotationBootDiskClass  = "cascade.io/boot-disk-class"
)

// KubernetesJobs runs pipeline stages as batch/v1 Jobs. A multi-task stage
// becomes a single Indexed Job; per-task visibility is deliberately not part
// of the contract, only whole-job terminal status.
type KubernetesJobs struct {
	client         *k8s.Client
	namespace      string
	image          string
	serviceAccount string
	jobTTLSeconds  int32
}

func NewKubernetesJobs(client *k8s.Client, namespace, image, serviceAccount string, jobTTLSeconds int32) (*KubernetesJobs, error) {
	if client == nil {
		return nil, errors.New("k8s client is required")
	}
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = strings.TrimSpace(client.Namespace())
	}
	if namespace == "" {
		return nil, errors.New("job namespace is required")
	}
	if strings.TrimSpace(image) == "" {
		return nil, errors.New("task image is required")
	}
	if jobTTLSeconds < 0 {
		return nil, errors.New("job ttl must be non-negative")
	}
	return &KubernetesJobs{
		client:         client,
		namespace:      namespace,
		image:          strings.TrimSpace(image),
		serviceAccount: strings.TrimSpace(serviceAccount),
		jobTTLSeconds:  jobTTLSeconds,
	}, nil
}

func (b *KubernetesJobs) Submit(ctx context.Context, req JobRequest) (JobHandle, error) {
	if strings.TrimSpace(req.Name) == "" {
		return JobHandle{}, errors.New("job name is required")
	}
	if req.TaskCount < 1 {
		return JobHandle{}, fmt.Errorf("task count must be >= 1, got %d", req.TaskCount)
	}

	job := buildJob(req, b.image, b.serviceAccount, b.jobTTLSeconds)
	created, err := b.client.CreateJob(ctx, b.namespace, job)
	if err != nil {
		return JobHandle{}, err
	}
	return JobHandle{Name: req.Name, UID: created.Metadata.UID}, nil
}

func (b *KubernetesJobs) Status(ctx context.Context, handle JobHandle) (JobStatus, error) {
	job, err := b.client.GetJob(ctx, b.namespace, handle.Name)
	if err != nil {
		if errors.Is(err, k8s.ErrNotFound) {
			// Creation can lag list/watch caches briefly; report queued and
			// let the poller try again.
			return JobStatus{Phase: PhaseQueued}, nil
		}
		return JobStatus{}, err
	}
	return phaseFromJob(job), nil
}

func (b *KubernetesJobs) Cancel(ctx context.Context, handle JobHandle) error {
	err := b.client.DeleteJob(ctx, b.namespace, handle.Name)
	if err != nil && !errors.Is(err, k8s.ErrNotFound) {
		return err
	}
	return nil
}

func buildJob(req JobRequest, image, serviceAccount string, jobTTLSeconds int32) k8s.Job {
	labels := map[string]string{
		"app.kubernetes.io/name": "cascade",
	}
	for k, v := range req.Labels {
		labels[k] = v
	}

	container := k8s.Container{
		Name:  "task",
		Image: image,
	}
	for _, e := range req.Env {
		container.Env = append(container.Env, k8s.EnvVar{Name: e.Name, Value: e.Value})
	}
	if strings.TrimSpace(req.CPU) != "" {
		if container.Resources.Requests == nil {
			container.Resources.Requests = map[string]string{}
		}
		container.Resources.Requests["cpu"] = strings.TrimSpace(req.CPU)
	}
	if strings.TrimSpace(req.Memory) != "" {
		if container.Resources.Requests == nil {
			container.Resources.Requests = map[string]string{}
		}
		container.Resources.Requests["memory"] = strings.TrimSpace(req.Memory)
	}

	podSpec := k8s.PodSpec{
		RestartPolicy: "Never",
		Containers:    []k8s.Container{container},
	}
	if serviceAccount != "" {
		podSpec.ServiceAccountName = serviceAccount
	}
	if strings.TrimSpace(req.MachineClass) != "" {
		podSpec.NodeSelector = map[string]string{
			nodeSelectorMachineClass: strings.TrimSpace(req.MachineClass),
		}
	}

	var annotations map[string]string
	if strings.TrimSpace(req.BootDiskClass) != "" {
		annotations = map[string]string{
			annotationBootDiskClass: strings.TrimSpace(req.BootDiskClass),
		}
	}

	backoff := int32(0)
	spec := k8s.JobSpec{
		BackoffLimit: &backoff,
		Template: k8s.PodTemplateSpec{
			Metadata: k8s.ObjectMeta{Labels: labels, Annotations: annotations},
			Spec:     podSpec,
		},
	}
	if jobTTLSeconds > 0 {
		ttl := jobTTLSeconds
		spec.TTLSecondsAfterFinished = &ttl
	}
	if req.MaxDuration > 0 {
		deadline := int64(req.MaxDuration.Seconds())
		spec.ActiveDeadlineSeconds = &deadline
	}
	if req.TaskCount > 1 {
		completions := int32(req.TaskCount)
		parallelism := int32(req.Parallelism)
		if parallelism < 1 {
			parallelism = completions
		}
		spec.Completions = &completions
		spec.Parallelism = &parallelism
		spec.CompletionMode = "Indexed"
	}

	return k8s.Job{
		Metadata: k8s.ObjectMeta{
			Name:        req.Name,
			Labels:      labels,
			Annotations: annotations,
		},
		Spec: spec,
	}
}

func phaseFromJob(job k8s.Job) JobStatus {
	if cond, ok := findJobCondition(job.Status.Conditions, "Failed"); ok && strings.EqualFold(cond.Status, "True") {
		reason := strings.TrimSpace(cond.Message)
		if reason == "" {
			reason = strings.TrimSpace(cond.Reason)
		}
		return JobStatus{Phase: PhaseFailed, Reason: reason}
	}
	if cond, ok := findJobCondition(job.Status.Conditions, "Complete"); ok && strings.EqualFold(cond.Status, "True") {
		return JobStatus{Phase: PhaseSucceeded}
	}
	if job.Status.Active > 0 {
		return JobStatus{Phase: PhaseRunning}
	}
	return JobStatus{Phase: PhaseQueued}
}

func findJobCondition(conditions []k8s.JobCondition, conditionType string) (k8s.JobCondition, bool) {
	for _, cond := range conditions {
		if strings.EqualFold(strings.TrimSpace(cond.Type), conditionType) {
			return cond, true
		}
	}
	return k8s.JobCondition{}, false
}
