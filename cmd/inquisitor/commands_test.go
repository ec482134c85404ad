package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	body := `
storage:
  driver: memory
scope:
  accounts: ["111111111111"]
  regions: [us-east-1]
work:
  - name: inventory
    kind: aws_region
    interval: 15m
    entry_point: builtin.log
`
	if err := os.WriteFile(good, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	var out bytes.Buffer
	if err := validateFile(&out, good); err != nil {
		t.Fatalf("validateFile: %v", err)
	}
	if !strings.Contains(out.String(), "ok (1 work descriptors") {
		t.Fatalf("output=%q", out.String())
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"work": [{"name": "x", "kind": "global", "interval": "15m", "entry_point": "nope"}]}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := validateFile(&out, bad); err == nil {
		t.Fatalf("expected error for unregistered entry point")
	}
}
