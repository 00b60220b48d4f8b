package config

import (
	"os"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	Initialize()
	if DefaultLocalDir() != "./git-documentdb" {
		t.Fatalf("DefaultLocalDir() = %q", DefaultLocalDir())
	}
	if DefaultSerialize() != "json" {
		t.Fatalf("DefaultSerialize() = %q", DefaultSerialize())
	}
	if DefaultRetry() != 3 {
		t.Fatalf("DefaultRetry() = %d", DefaultRetry())
	}
	if DefaultRetryInterval() != time.Second {
		t.Fatalf("DefaultRetryInterval() = %v", DefaultRetryInterval())
	}
	if DefaultDebounceTime() != 3*time.Second {
		t.Fatalf("DefaultDebounceTime() = %v", DefaultDebounceTime())
	}
}

func TestEnvVarOverride(t *testing.T) {
	os.Setenv("GITDDB_LOCAL_DIR", "/tmp/custom-dir")
	defer os.Unsetenv("GITDDB_LOCAL_DIR")
	Initialize()
	if DefaultLocalDir() != "/tmp/custom-dir" {
		t.Fatalf("expected env override to take effect, got %q", DefaultLocalDir())
	}
}

func TestSetOverridesInProcess(t *testing.T) {
	Initialize()
	Set("retry", 9)
	if DefaultRetry() != 9 {
		t.Fatalf("expected Set to override retry, got %d", DefaultRetry())
	}
}
