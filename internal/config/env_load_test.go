package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	dotenv := filepath.Join(dir, ".env")
	if err := os.WriteFile(dotenv, []byte("A=1\n#comment\nB=two\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	pairs, err := LoadEnvFile(dotenv)
	if err != nil {
		t.Fatalf("load env file: %v", err)
	}
	if len(pairs) != 2 || pairs[0] != "A=1" || pairs[1] != "B=two" {
		t.Fatalf("unexpected pairs: %+v", pairs)
	}
}

func TestLoadEnvFileInvalidPath(t *testing.T) {
	if _, err := LoadEnvFile("/definitely/not/exist.env"); err == nil {
		t.Fatalf("expected error for missing env file")
	}
}

func TestWorkerEnv_Merge(t *testing.T) {
	dir := t.TempDir()
	dotenv := filepath.Join(dir, ".env")
	if err := os.WriteFile(dotenv, []byte("FILE_ONLY=fv\nTOP=from-file\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	c := &Config{EnvFiles: []string{dotenv}, Env: []string{"TOP=tv", "EXTRA=1"}}
	env, err := c.WorkerEnv()
	if err != nil {
		t.Fatalf("WorkerEnv: %v", err)
	}
	want := []string{"FILE_ONLY=fv", "TOP=tv", "EXTRA=1"}
	if len(env) != len(want) {
		t.Fatalf("env = %v, want %v", env, want)
	}
	for i := range want {
		if env[i] != want[i] {
			t.Fatalf("env = %v, want %v", env, want)
		}
	}
}

func TestWorkerEnv_MissingFile(t *testing.T) {
	c := &Config{EnvFiles: []string{filepath.Join(t.TempDir(), "missing.env")}}
	if _, err := c.WorkerEnv(); err == nil {
		t.Fatal("expected error for missing env file")
	}
}

func TestWorkerEnv_NoFiles(t *testing.T) {
	c := &Config{Env: []string{"A=1"}}
	env, err := c.WorkerEnv()
	if err != nil || len(env) != 1 || env[0] != "A=1" {
		t.Fatalf("env = %v, err = %v", env, err)
	}
}
