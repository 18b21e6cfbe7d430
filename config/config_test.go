package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func baseEnv() map[string]string {
	return map[string]string{
		"BACKEND_URL":              "https://backend.example/api/",
		"REDIS_CONNECTION_STRING":  "redis://localhost:6379/0",
		"LOCAL_AUTH_SHARED_SECRET": "secret",
	}
}

func TestFromEnvDefaults(t *testing.T) {
	s, err := FromEnv(envMap(baseEnv()))
	if err != nil {
		t.Fatalf("from env: %v", err)
	}
	if s.BackendURL != "https://backend.example/api" {
		t.Fatalf("expected trailing slash trimmed, got %q", s.BackendURL)
	}
	if s.ListenAddr != ":8080" || s.HTTPTimeout != 30*time.Second {
		t.Fatalf("unexpected defaults: %#v", s)
	}
	if s.OTPLength != 6 || s.OTPMaxAttempts != 5 || s.AuthMode != AuthModeLocal {
		t.Fatalf("unexpected OTP/auth defaults: %#v", s)
	}
	if s.SessionIdleTTL != 30*time.Minute || s.SessionSweepInterval != time.Minute {
		t.Fatalf("unexpected session defaults: %#v", s)
	}
}

func TestFromEnvErrors(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{name: "missing backend", key: "BACKEND_URL", value: "", wantErr: "BACKEND_URL"},
		{name: "bad duration", key: "HTTP_TIMEOUT", value: "soon", wantErr: "HTTP_TIMEOUT"},
		{name: "bad int", key: "OTP_LENGTH", value: "six", wantErr: "OTP_LENGTH"},
		{name: "short otp", key: "OTP_LENGTH", value: "2", wantErr: "OTP_LENGTH"},
		{name: "unknown auth mode", key: "AUTH_MODE", value: "magic", wantErr: "AUTH_MODE"},
		{name: "jwks without url", key: "AUTH_MODE", value: "jwks", wantErr: "JWKS_URL"},
		{name: "bad log format", key: "LOG_FORMAT", value: "xml", wantErr: "LOG_FORMAT"},
		{name: "zero idle ttl", key: "SESSION_IDLE_TTL", value: "0s", wantErr: "SESSION_IDLE_TTL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := baseEnv()
			env[tt.key] = tt.value
			_, err := FromEnv(envMap(env))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error mentioning %s, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	content := "BACKEND_URL=http://localhost:9999\nREDIS_CONNECTION_STRING=localhost:6379\nLOCAL_AUTH_SHARED_SECRET=s3cret\nOTP_LENGTH=8\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	for _, k := range []string{"BACKEND_URL", "REDIS_CONNECTION_STRING", "LOCAL_AUTH_SHARED_SECRET", "OTP_LENGTH"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.BackendURL != "http://localhost:9999" || s.OTPLength != 8 {
		t.Fatalf("unexpected settings: %#v", s)
	}
}

func TestLoadMissingFileIsIgnored(t *testing.T) {
	for k, v := range baseEnv() {
		t.Setenv(k, v)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("expected missing env file to be ignored, got %v", err)
	}
}
