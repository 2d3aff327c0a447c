package policy

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func newTestEngine(t *testing.T, config Config) *Engine {
	t.Helper()
	engine, err := NewEngine(config, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return engine
}

func TestExempt(t *testing.T) {
	engine := newTestEngine(t, Config{
		ExemptApps:      []string{"org.example.maps", "org.example.phone"},
		LauncherPattern: "launcher",
		SelfAppID:       "com.example.appwarden",
	})

	tests := []struct {
		name  string
		appID string
		want  bool
	}{
		{"own app", "com.example.appwarden", true},
		{"configured app", "org.example.maps", true},
		{"launcher", "com.android.launcher3", true},
		{"system ui", "com.android.systemui", true},
		{"limited app", "com.example.game", false},
		{"home screen", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.Exempt(context.Background(), tt.appID)
			if err != nil {
				t.Fatalf("Exempt() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Exempt(%q) = %v, want %v", tt.appID, got, tt.want)
			}
		})
	}
}

func TestExemptNoConfiguredApps(t *testing.T) {
	engine := newTestEngine(t, Config{SelfAppID: "appwarden"})

	got, err := engine.Exempt(context.Background(), "org.example.maps")
	if err != nil {
		t.Fatalf("Exempt() error = %v", err)
	}
	if got {
		t.Error("app exempted without configuration")
	}
	if len(engine.Modules()) != 1 {
		t.Errorf("Modules() = %v, want the built-in policy only", engine.Modules())
	}
}
