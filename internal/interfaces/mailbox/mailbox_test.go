package mailbox

import (
	"context"
	"testing"

	"github.com/shc-project/shc/internal/config"
)

func TestInterfaceNameFallsBackWhenUnconfigured(t *testing.T) {
	i := New(config.MailboxConfig{}, nil, nil)
	if i.Name() != "mailbox" {
		t.Errorf("Name() = %q, want mailbox", i.Name())
	}
}

func TestInterfaceNameUsesConfiguredName(t *testing.T) {
	i := New(config.MailboxConfig{Name: "personal"}, nil, nil)
	if i.Name() != "personal" {
		t.Errorf("Name() = %q, want personal", i.Name())
	}
}

func TestPublishUnseenCountFailsBeforeConnect(t *testing.T) {
	i := New(config.MailboxConfig{}, nil, nil)
	if err := i.publishUnseenCount(context.Background()); err == nil {
		t.Fatal("expected an error when not connected")
	}
}

func TestSubscribeFailsBeforeConnect(t *testing.T) {
	i := New(config.MailboxConfig{}, nil, nil)
	if err := i.Subscribe(context.Background()); err == nil {
		t.Fatal("expected Subscribe to fail before a successful Connect")
	}
}
