package internal

import (
	"strings"
	"testing"
	"time"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeValid(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: "mysecret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("token mode with token should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("token mode should be enabled")
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = "token"
	cfg.Auth.Token = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.Store.CollectionID != "default" {
		t.Errorf("collection_id = %q, want default", cfg.Store.CollectionID)
	}
}

func TestVaultConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     VaultConfig
		wantErr bool
	}{
		{"enabled with path", VaultConfig{Path: "./vault", Enabled: true, Watch: true}, false},
		{"enabled without path", VaultConfig{Enabled: true}, true},
		{"disabled without path", VaultConfig{}, false},
		{"watch needs vault", VaultConfig{Path: "./vault", Watch: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStoreConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Store.EmbeddingDimensions = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero embedding dimensions should fail")
	}

	cfg = NewDefaultConfig()
	cfg.Store.CollectionID = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("empty collection id should fail")
	}
}

func TestHTTPConfig(t *testing.T) {
	cfg := HTTPConfig{Port: 9090}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid port: %v", err)
	}
	if got := cfg.Address(); got != ":9090" {
		t.Errorf("Address() = %q", got)
	}
	cfg.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatal("port out of range should fail")
	}
	cfg = HTTPConfig{Port: 80, EventHeartbeat: -time.Second}
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative heartbeat should fail")
	}
}
