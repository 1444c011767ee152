// ABOUTME: ValidationRunner: builds and runs the candidate image under constrained resources,
// ABOUTME: decides readiness and outcome, applies size and vulnerability policies, always tears down.
package validate

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dockwright/dockwright/dockercli"
	"github.com/dockwright/dockwright/workflow"
)

// Config bounds every validated container instance.
type Config struct {
	BuildMemory  string        // memory ceiling for the build, default "2g"
	RunMemory    string        // memory ceiling for the instance, default "512m"
	CPUs         float64       // CPU-share ceiling, default 1.0
	PidsLimit    int           // process-count ceiling, default 256
	PollInterval time.Duration // readiness polling interval, default 2s
	MaxReadyWait time.Duration // wall-clock ceiling on readiness polling, default 2m
	SizeCeiling  int64         // artifact size ceiling in bytes; 0 = disabled
	VulnScan     bool          // run the vulnerability scanner
	VulnStrict   bool          // any base-layer critical/high flips the outcome
	VulnBaseMax  int           // non-strict threshold of base-layer critical/high, default 5
}

func (c Config) withDefaults() Config {
	if c.BuildMemory == "" {
		c.BuildMemory = "2g"
	}
	if c.RunMemory == "" {
		c.RunMemory = "512m"
	}
	if c.CPUs == 0 {
		c.CPUs = 1.0
	}
	if c.PidsLimit == 0 {
		c.PidsLimit = 256
	}
	if c.PollInterval == 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.MaxReadyWait == 0 {
		c.MaxReadyWait = 2 * time.Minute
	}
	if c.VulnBaseMax == 0 {
		c.VulnBaseMax = 5
	}
	return c
}

// Runner implements workflow.Validator against the container runtime CLI.
type Runner struct {
	docker     *dockercli.Client
	classifier workflow.Classifier
	scanner    *dockercli.TrivyScanner // nil = scanning disabled
	httpClient *http.Client
	cfg        Config

	// sleep is injectable so readiness tests run without wall-clock delays.
	sleep func(ctx context.Context, d time.Duration)
	now   func() time.Time
}

var _ workflow.Validator = (*Runner)(nil)

// NewRunner creates a validation runner. scanner may be nil.
func NewRunner(docker *dockercli.Client, classifier workflow.Classifier, scanner *dockercli.TrivyScanner, cfg Config) *Runner {
	return &Runner{
		docker:     docker,
		classifier: classifier,
		scanner:    scanner,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		cfg:        cfg.withDefaults(),
		sleep:      sleepCtx,
		now:        time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Validate builds and runs the candidate artifact and renders a verdict.
// Artifact and environment problems are reported inside the verdict with a
// classification; a returned error means the runner itself is broken.
// The image and container are removed on every exit path.
func (r *Runner) Validate(ctx context.Context, in workflow.ValidateInput) (*workflow.ValidationVerdict, error) {
	id := uuid.NewString()[:8]
	imageTag := "dockwright-candidate:" + id
	containerName := "dockwright-" + id

	defer r.teardown(imageTag, containerName)

	// Step 1: build under the memory ceiling.
	buildRes, err := r.docker.Build(ctx, dockercli.BuildOpts{
		ContextDir: in.RepoPath,
		Dockerfile: in.ArtifactFile,
		Tag:        imageTag,
		Memory:     r.cfg.BuildMemory,
	})
	if err != nil {
		// The runtime binary itself failed to execute: environment problem,
		// not worth oracle classification.
		return r.environmentVerdict(fmt.Sprintf("container runtime unavailable: %v", err)), nil
	}
	if buildRes.ExitCode != 0 {
		out := buildRes.Combined()
		cls := workflow.ClassifyOrDefault(ctx, r.classifier, workflow.ClassifyInput{
			FailureText: out,
			Stack:       in.Stack,
		})
		return &workflow.ValidationVerdict{
			Success:        false,
			Message:        "image build failed:\n" + tail(out, 4000),
			Classification: &cls,
		}, nil
	}

	// Step 2: start under constrained resources.
	runRes, err := r.docker.RunDetached(ctx, dockercli.RunOpts{
		Image:     imageTag,
		Name:      containerName,
		Memory:    r.cfg.RunMemory,
		CPUs:      r.cfg.CPUs,
		PidsLimit: r.cfg.PidsLimit,
	})
	if err != nil {
		return r.environmentVerdict(fmt.Sprintf("container runtime unavailable: %v", err)), nil
	}
	if runRes.ExitCode != 0 {
		out := runRes.Combined()
		cls := workflow.ClassifyOrDefault(ctx, r.classifier, workflow.ClassifyInput{
			FailureText: out,
			Stack:       in.Stack,
		})
		size, _ := r.docker.ImageSize(ctx, imageTag)
		return &workflow.ValidationVerdict{
			Success:        false,
			Message:        "container failed to start:\n" + tail(out, 4000),
			ArtifactSize:   size,
			Classification: &cls,
		}, nil
	}

	// Step 3: readiness.
	var ready readiness
	if len(in.SuccessPatterns) > 0 || len(in.FailurePatterns) > 0 {
		ready = r.awaitPatterns(ctx, containerName, in.SuccessPatterns, in.FailurePatterns)
	} else {
		ready = r.awaitFixed(ctx, containerName, in.WarmupSeconds)
	}

	logs, _ := r.docker.Logs(ctx, containerName)

	// Step 4: outcome by project category.
	verdict := r.decide(ctx, in, containerName, ready, logs)
	verdict.RuntimeLogs = tail(logs, 8000)

	// Step 5: size ceiling overrides even a successful run.
	size, sizeErr := r.docker.ImageSize(ctx, imageTag)
	if sizeErr == nil {
		verdict.ArtifactSize = size
		if r.cfg.SizeCeiling > 0 && size > r.cfg.SizeCeiling {
			verdict.Success = false
			verdict.Message = fmt.Sprintf("image size %d bytes exceeds ceiling %d bytes", size, r.cfg.SizeCeiling)
			verdict.Classification = &workflow.Classification{
				Category:     workflow.ArtifactDefect,
				SuggestedFix: "use a smaller base image or a multi-stage build with a minimal runtime stage",
				Reason:       "artifact size over the configured ceiling",
			}
		}
	}

	// Step 6: vulnerability scan; base-layer findings can flip the outcome,
	// application findings are informational only.
	if verdict.Success && r.cfg.VulnScan && r.scanner != nil {
		r.applyVulnPolicy(ctx, imageTag, verdict)
	}

	return verdict, nil
}

// decide renders the run-phase outcome for the project category.
func (r *Runner) decide(ctx context.Context, in workflow.ValidateInput, containerName string, ready readiness, logs string) *workflow.ValidationVerdict {
	if ready.failedPattern != "" {
		cls := workflow.ClassifyOrDefault(ctx, r.classifier, workflow.ClassifyInput{
			FailureText: "startup failure pattern matched: " + ready.failedPattern,
			RuntimeLogs: logs,
			Stack:       in.Stack,
		})
		return &workflow.ValidationVerdict{
			Success:        false,
			Message:        fmt.Sprintf("startup failure pattern %q matched in logs", ready.failedPattern),
			Classification: &cls,
		}
	}

	switch in.Category {
	case workflow.CategoryService:
		if ready.running {
			msg := "service is running"
			if in.Endpoint.Port > 0 {
				// A failed probe never flips success; the endpoint is a
				// best-effort guess. It only downgrades the message.
				if probeErr := r.probe(ctx, containerName, in.Endpoint); probeErr != nil {
					msg = fmt.Sprintf("service is running (health probe %s:%d failed: %v)",
						in.Endpoint.Path, in.Endpoint.Port, probeErr)
				} else {
					msg = fmt.Sprintf("service is running and responded on %s:%d", in.Endpoint.Path, in.Endpoint.Port)
				}
			}
			return &workflow.ValidationVerdict{Success: true, Message: msg}
		}
		return r.classifyExit(ctx, in, ready, logs, "service exited")

	case workflow.CategoryScript:
		if ready.running {
			return &workflow.ValidationVerdict{Success: true, Message: "script is still running (long-running task)"}
		}
		if ready.exitCode == 0 {
			return &workflow.ValidationVerdict{Success: true, Message: "script completed with exit code 0"}
		}
		return r.classifyExit(ctx, in, ready, logs, "script failed")

	default:
		if ready.running || ready.exitCode == 0 {
			return &workflow.ValidationVerdict{Success: true, Message: "container ran successfully"}
		}
		return r.classifyExit(ctx, in, ready, logs, "container failed")
	}
}

func (r *Runner) classifyExit(ctx context.Context, in workflow.ValidateInput, ready readiness, logs, what string) *workflow.ValidationVerdict {
	failureText := fmt.Sprintf("%s with exit code %d", what, ready.exitCode)
	cls := workflow.ClassifyOrDefault(ctx, r.classifier, workflow.ClassifyInput{
		FailureText: failureText,
		RuntimeLogs: logs,
		Stack:       in.Stack,
	})
	return &workflow.ValidationVerdict{
		Success:        false,
		Message:        failureText + "\n" + tail(logs, 4000),
		Classification: &cls,
	}
}

// applyVulnPolicy runs the scanner and mutates the verdict per policy.
func (r *Runner) applyVulnPolicy(ctx context.Context, imageTag string, verdict *workflow.ValidationVerdict) {
	report, err := r.scanner.Scan(ctx, imageTag)
	if err != nil {
		log.Printf("component=validate action=vuln_scan_skipped err=%v", err)
		return
	}
	baseCount := report.BaseCriticalHigh()
	appCount := len(report.AppFindings())

	flip := false
	if r.cfg.VulnStrict {
		flip = baseCount > 0
	} else {
		flip = baseCount > r.cfg.VulnBaseMax
	}
	if flip {
		verdict.Success = false
		verdict.Message = fmt.Sprintf("base image carries %d critical/high vulnerabilities", baseCount)
		verdict.Classification = &workflow.Classification{
			Category:     workflow.ArtifactDefect,
			SuggestedFix: "switch to a newer or slimmer base image with fewer OS-level vulnerabilities",
			Reason:       "base-layer vulnerability count over policy",
		}
		return
	}
	if appCount > 0 {
		// Application dependencies are not fixable by artifact changes.
		verdict.Message += fmt.Sprintf(" (%d application-dependency vulnerabilities reported, informational)", appCount)
	}
}

// probe attempts the declared health endpoint: first from inside the
// instance, then against the host-mapped port.
func (r *Runner) probe(ctx context.Context, containerName string, ep workflow.Endpoint) error {
	path := ep.Path
	if path == "" || !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	inner := fmt.Sprintf(
		"curl -fsS -m 5 http://127.0.0.1:%d%s >/dev/null 2>&1 || wget -q -T 5 -O /dev/null http://127.0.0.1:%d%s",
		ep.Port, path, ep.Port, path)
	if res, err := r.docker.Exec(ctx, containerName, "sh", "-c", inner); err == nil && res.ExitCode == 0 {
		return nil
	}

	hostAddr, err := r.docker.HostPort(ctx, containerName, ep.Port)
	if err != nil || hostAddr == "" {
		return fmt.Errorf("endpoint unreachable from inside the container and no host port mapping")
	}
	if strings.HasPrefix(hostAddr, "0.0.0.0:") {
		hostAddr = "127.0.0.1:" + strings.TrimPrefix(hostAddr, "0.0.0.0:")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+hostAddr+path, nil)
	if err != nil {
		return err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// environmentVerdict builds a non-retryable environment failure without
// consulting the oracle.
func (r *Runner) environmentVerdict(msg string) *workflow.ValidationVerdict {
	return &workflow.ValidationVerdict{
		Success: false,
		Message: msg,
		Classification: &workflow.Classification{
			Category:     workflow.EnvironmentDefect,
			SuggestedFix: "check that the container daemon is running and reachable",
			Reason:       "container runtime invocation failed",
		},
	}
}

// teardown removes the instance and image. Runs on every exit path with a
// fresh context so cancellation cannot leak resources.
func (r *Runner) teardown(imageTag, containerName string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.docker.RemoveContainer(ctx, containerName); err != nil {
		log.Printf("component=validate action=teardown_container_failed name=%s err=%v", containerName, err)
	}
	if err := r.docker.RemoveImage(ctx, imageTag); err != nil {
		log.Printf("component=validate action=teardown_image_failed tag=%s err=%v", imageTag, err)
	}
}

// tail returns at most the last n bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "[...]" + s[len(s)-n:]
}
