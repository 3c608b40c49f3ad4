package mqtt

import (
	"testing"

	"github.com/shc-project/shc/internal/config"
)

func TestInterfaceNameFallsBackWhenUnconfigured(t *testing.T) {
	i := New(config.MQTTConfig{}, nil, nil)
	if i.Name() != "mqtt" {
		t.Errorf("Name() = %q, want mqtt", i.Name())
	}
}

func TestInterfaceNameUsesConfiguredName(t *testing.T) {
	i := New(config.MQTTConfig{Name: "broker-a"}, nil, nil)
	if i.Name() != "broker-a" {
		t.Errorf("Name() = %q, want broker-a", i.Name())
	}
}

func TestRunFailsBeforeConnect(t *testing.T) {
	i := New(config.MQTTConfig{}, nil, nil)
	if err := i.Run(nil, func() {}); err == nil {
		t.Fatal("expected Run to fail when called before a successful Connect")
	}
}
