package wasmplugin

import (
	"context"
	"testing"

	"github.com/untoldecay/trustchain/internal/event"
)

func TestLoadMissingFileReturnsError(t *testing.T) {
	if _, err := Load(context.Background(), "/nonexistent/plugin.wasm"); err == nil {
		t.Fatal("Load(missing path) returned a nil error")
	}
}

func TestCallShortCircuitsOnEmptyInput(t *testing.T) {
	var m Module
	out, err := m.call("underlay", nil)
	if err != nil {
		t.Fatalf("call with empty input: %v", err)
	}
	if out != nil {
		t.Errorf("call with empty input returned %v, want nil", out)
	}
}

func TestUnderlayOverlayShortCircuitOnEmptyInput(t *testing.T) {
	var m Module
	out, err := m.Underlay(event.Metadata{}, nil, nil, nil)
	if err != nil {
		t.Fatalf("Underlay with empty input: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("Underlay with empty input returned %v, want empty", out)
	}

	out, err = m.Overlay(event.Metadata{}, nil, nil)
	if err != nil {
		t.Fatalf("Overlay with empty input: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("Overlay with empty input returned %v, want empty", out)
	}
}
