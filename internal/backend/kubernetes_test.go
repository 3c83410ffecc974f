package backend

import (
	"testing"
	"time"

	"github.com/cascade-labs/cascade-go/internal/platform/k8s"
)

func TestBuildJobSingleTask(t *testing.T) {
	req := JobRequest{
		Name:      "cascade-r1-setup-abc12",
		TaskCount: 1,
		CPU:       "2",
		Memory:    "4Gi",
		Env: []EnvVar{
			{Name: "CASCADE_MODE", Value: "setup"},
			{Name: "CASCADE_RUN_ID", Value: "r1"},
		},
		Labels: map[string]string{"cascade.io/stage": "setup"},
	}

	job := buildJob(req, "registry.example.com/task:v3", "cascade-runner", 3600)

	if job.Metadata.Name != "cascade-r1-setup-abc12" {
		t.Fatalf("Name=%q", job.Metadata.Name)
	}
	if job.Spec.Completions != nil || job.Spec.Parallelism != nil || job.Spec.CompletionMode != "" {
		t.Fatal("single-task job must not be indexed")
	}
	if job.Spec.BackoffLimit == nil || *job.Spec.BackoffLimit != 0 {
		t.Fatal("backoffLimit must be 0, retries are run-level")
	}
	if job.Spec.TTLSecondsAfterFinished == nil || *job.Spec.TTLSecondsAfterFinished != 3600 {
		t.Fatal("ttlSecondsAfterFinished must carry the configured ttl")
	}

	pod := job.Spec.Template.Spec
	if pod.RestartPolicy != "Never" {
		t.Fatalf("RestartPolicy=%q", pod.RestartPolicy)
	}
	if pod.ServiceAccountName != "cascade-runner" {
		t.Fatalf("ServiceAccountName=%q", pod.ServiceAccountName)
	}
	if len(pod.Containers) != 1 {
		t.Fatalf("containers=%d", len(pod.Containers))
	}
	container := pod.Containers[0]
	if container.Image != "registry.example.com/task:v3" {
		t.Fatalf("Image=%q", container.Image)
	}
	if container.Resources.Requests["cpu"] != "2" || container.Resources.Requests["memory"] != "4Gi" {
		t.Fatalf("Requests=%v", container.Resources.Requests)
	}
	if len(container.Env) != 2 || container.Env[0].Name != "CASCADE_MODE" || container.Env[1].Value != "r1" {
		t.Fatalf("Env=%v, order must be preserved", container.Env)
	}
	if job.Metadata.Labels["cascade.io/stage"] != "setup" {
		t.Fatalf("Labels=%v", job.Metadata.Labels)
	}
}

func TestBuildJobIndexedFanout(t *testing.T) {
	req := JobRequest{
		Name:        "cascade-r1-fanout-abc12",
		TaskCount:   52,
		Parallelism: 10,
	}

	job := buildJob(req, "img", "", 0)

	if job.Spec.Completions == nil || *job.Spec.Completions != 52 {
		t.Fatalf("Completions=%v, want 52", job.Spec.Completions)
	}
	if job.Spec.Parallelism == nil || *job.Spec.Parallelism != 10 {
		t.Fatalf("Parallelism=%v, want 10", job.Spec.Parallelism)
	}
	if job.Spec.CompletionMode != "Indexed" {
		t.Fatalf("CompletionMode=%q, want Indexed", job.Spec.CompletionMode)
	}
	if job.Spec.TTLSecondsAfterFinished != nil {
		t.Fatal("ttl must be omitted when not configured")
	}
}

func TestBuildJobMachinePlacement(t *testing.T) {
	req := JobRequest{
		Name:          "cascade-r1-fanout-abc12",
		TaskCount:     4,
		MachineClass:  "c3-standard-8",
		BootDiskClass: "hyperdisk-balanced",
		MaxDuration:   2 * time.Hour,
	}

	job := buildJob(req, "img", "", 0)

	if got := job.Spec.Template.Spec.NodeSelector["cascade.io/machine-class"]; got != "c3-standard-8" {
		t.Fatalf("node selector=%q", got)
	}
	if got := job.Spec.Template.Metadata.Annotations["cascade.io/boot-disk-class"]; got != "hyperdisk-balanced" {
		t.Fatalf("boot disk annotation=%q", got)
	}
	if job.Spec.ActiveDeadlineSeconds == nil || *job.Spec.ActiveDeadlineSeconds != 7200 {
		t.Fatalf("ActiveDeadlineSeconds=%v, want 7200", job.Spec.ActiveDeadlineSeconds)
	}
}

func TestBuildJobDefaultsParallelismToCompletions(t *testing.T) {
	job := buildJob(JobRequest{Name: "j", TaskCount: 9}, "img", "", 0)
	if job.Spec.Parallelism == nil || *job.Spec.Parallelism != 9 {
		t.Fatalf("Parallelism=%v, want 9", job.Spec.Parallelism)
	}
}

func TestPhaseFromJob(t *testing.T) {
	cases := []struct {
		name   string
		status k8s.JobStatus
		want   Phase
		reason string
	}{
		{
			name: "failed condition wins",
			status: k8s.JobStatus{
				Active: 1,
				Conditions: []k8s.JobCondition{
					{Type: "Failed", Status: "True", Reason: "BackoffLimitExceeded", Message: "task exited 1"},
				},
			},
			want:   PhaseFailed,
			reason: "task exited 1",
		},
		{
			name: "failed condition falls back to reason",
			status: k8s.JobStatus{
				Conditions: []k8s.JobCondition{
					{Type: "Failed", Status: "True", Reason: "DeadlineExceeded"},
				},
			},
			want:   PhaseFailed,
			reason: "DeadlineExceeded",
		},
		{
			name: "complete condition",
			status: k8s.JobStatus{
				Succeeded:  52,
				Conditions: []k8s.JobCondition{{Type: "Complete", Status: "True"}},
			},
			want: PhaseSucceeded,
		},
		{
			name:   "active pods",
			status: k8s.JobStatus{Active: 3},
			want:   PhaseRunning,
		},
		{
			name: "false condition ignored",
			status: k8s.JobStatus{
				Conditions: []k8s.JobCondition{{Type: "Failed", Status: "False"}},
			},
			want: PhaseQueued,
		},
		{
			name: "nothing yet",
			want: PhaseQueued,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := phaseFromJob(k8s.Job{Status: tc.status})
			if got.Phase != tc.want {
				t.Fatalf("Phase=%s, want %s", got.Phase, tc.want)
			}
			if got.Reason != tc.reason {
				t.Fatalf("Reason=%q, want %q", got.Reason, tc.reason)
			}
		})
	}
}

func TestPhaseTerminal(t *testing.T) {
	terminal := map[Phase]bool{
		PhaseSucceeded: true,
		PhaseFailed:    true,
		PhaseCancelled: true,
	}
	for _, phase := range []Phase{PhaseQueued, PhaseRunning, PhaseSucceeded, PhaseFailed, PhaseCancelled} {
		if phase.Terminal() != terminal[phase] {
			t.Fatalf("%s.Terminal()=%v, want %v", phase, phase.Terminal(), terminal[phase])
		}
	}
}
