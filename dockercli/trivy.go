// ABOUTME: Trivy CLI invocation and findings parse for image vulnerability scanning.
// ABOUTME: Findings are partitioned by origin: base-layer OS packages vs application dependencies.
package dockercli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Finding is one vulnerability from a scan.
type Finding struct {
	ID       string
	Package  string
	Severity string // CRITICAL, HIGH, MEDIUM, LOW, UNKNOWN
	// BaseLayer is true when the finding originates from OS packages pulled
	// in by the base image, the only kind an artifact change can fix.
	BaseLayer bool
}

// ScanReport is the structured outcome of one image scan.
type ScanReport struct {
	Findings []Finding
}

// BaseCriticalHigh counts CRITICAL and HIGH findings from base-layer packages.
func (r *ScanReport) BaseCriticalHigh() int {
	n := 0
	for _, f := range r.Findings {
		if f.BaseLayer && (f.Severity == "CRITICAL" || f.Severity == "HIGH") {
			n++
		}
	}
	return n
}

// AppFindings returns the application-level findings (informational only).
func (r *ScanReport) AppFindings() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if !f.BaseLayer {
			out = append(out, f)
		}
	}
	return out
}

// TrivyScanner runs trivy against a built image.
type TrivyScanner struct {
	run CommandRunner
	bin string
}

// NewTrivyScanner creates a scanner using the real exec runner.
func NewTrivyScanner() *TrivyScanner {
	return &TrivyScanner{run: ExecRunner{}, bin: "trivy"}
}

// NewTrivyScannerWith creates a scanner with a custom runner (tests).
func NewTrivyScannerWith(run CommandRunner, bin string) *TrivyScanner {
	if bin == "" {
		bin = "trivy"
	}
	return &TrivyScanner{run: run, bin: bin}
}

// trivyOutput mirrors the subset of trivy's JSON report format we consume.
type trivyOutput struct {
	Results []struct {
		Class           string `json:"Class"` // "os-pkgs" or "lang-pkgs"
		Vulnerabilities []struct {
			VulnerabilityID string `json:"VulnerabilityID"`
			PkgName         string `json:"PkgName"`
			Severity        string `json:"Severity"`
		} `json:"Vulnerabilities"`
	} `json:"Results"`
}

// Scan runs trivy over the image and parses its findings. OS-package
// results are attributed to the base layer; language-package results to the
// application.
func (t *TrivyScanner) Scan(ctx context.Context, image string) (*ScanReport, error) {
	res, err := t.run.Run(ctx, t.bin, "image", "--format", "json", "--quiet", image)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("trivy scan %s: %s", image, firstNonEmpty(res.Stderr, res.Stdout))
	}

	var out trivyOutput
	if err := json.Unmarshal([]byte(res.Stdout), &out); err != nil {
		return nil, fmt.Errorf("trivy scan %s: parse report: %w", image, err)
	}

	report := &ScanReport{}
	for _, result := range out.Results {
		base := result.Class == "os-pkgs"
		for _, v := range result.Vulnerabilities {
			report.Findings = append(report.Findings, Finding{
				ID:        v.VulnerabilityID,
				Package:   v.PkgName,
				Severity:  strings.ToUpper(v.Severity),
				BaseLayer: base,
			})
		}
	}
	return report, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
