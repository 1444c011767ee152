// ABOUTME: Tests for trivy report parsing and finding attribution.
package dockercli

import (
	"context"
	"errors"
	"testing"
)

const sampleTrivyReport = `{
  "Results": [
    {
      "Class": "os-pkgs",
      "Vulnerabilities": [
        {"VulnerabilityID": "CVE-2024-0001", "PkgName": "openssl", "Severity": "critical"},
        {"VulnerabilityID": "CVE-2024-0002", "PkgName": "zlib", "Severity": "HIGH"},
        {"VulnerabilityID": "CVE-2024-0003", "PkgName": "bash", "Severity": "LOW"}
      ]
    },
    {
      "Class": "lang-pkgs",
      "Vulnerabilities": [
        {"VulnerabilityID": "CVE-2024-0004", "PkgName": "lodash", "Severity": "CRITICAL"}
      ]
    }
  ]
}`

func TestScanPartitionsFindings(t *testing.T) {
	fake := newScriptRunner()
	fake.results["image"] = Result{Stdout: sampleTrivyReport}
	s := NewTrivyScannerWith(fake, "")

	report, err := s.Scan(context.Background(), "candidate:1")
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Findings) != 4 {
		t.Fatalf("findings = %d, want 4", len(report.Findings))
	}
	// Severity is normalized to upper case; os-pkgs attribute to the base layer.
	if got := report.BaseCriticalHigh(); got != 2 {
		t.Errorf("BaseCriticalHigh() = %d, want 2", got)
	}
	app := report.AppFindings()
	if len(app) != 1 || app[0].ID != "CVE-2024-0004" {
		t.Errorf("AppFindings() = %+v", app)
	}
}

func TestScanFailurePaths(t *testing.T) {
	fake := newScriptRunner()
	fake.results["image"] = Result{ExitCode: 1, Stderr: "image not found"}
	s := NewTrivyScannerWith(fake, "trivy")
	if _, err := s.Scan(context.Background(), "gone:1"); err == nil {
		t.Error("expected error on non-zero trivy exit")
	}

	fake.results["image"] = Result{Stdout: "{broken"}
	if _, err := s.Scan(context.Background(), "candidate:1"); err == nil {
		t.Error("expected parse error on malformed report")
	}

	boom := errors.New("trivy: not installed")
	fake.errs["image"] = boom
	if _, err := s.Scan(context.Background(), "candidate:1"); !errors.Is(err, boom) {
		t.Errorf("Scan() error = %v, want runner error", err)
	}
}

func TestScanEmptyReport(t *testing.T) {
	fake := newScriptRunner()
	fake.results["image"] = Result{Stdout: `{"Results": []}`}
	s := NewTrivyScannerWith(fake, "trivy")

	report, err := s.Scan(context.Background(), "candidate:1")
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Findings) != 0 || report.BaseCriticalHigh() != 0 {
		t.Errorf("empty report produced findings: %+v", report.Findings)
	}
}
