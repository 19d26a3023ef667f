//go:build !baremetal

package platform

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/wippyai/wasm-kernel/boot"
	"github.com/wippyai/wasm-kernel/kernel"
)

func TestHosted_Boot(t *testing.T) {
	p, err := New(Options{
		Logger: zaptest.NewLogger(t),
		In:     strings.NewReader(""),
		Out:    &bytes.Buffer{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !p.Hosted().Headless() {
		t.Fatal("non-terminal output should force headless")
	}

	seq := boot.New(p, kernel.DefaultConfig())
	k, err := seq.Boot(context.Background())
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	defer k.Close(context.Background())

	if len(p.VectorImage()) != boot.VectorTableSize {
		t.Errorf("vector image: %d bytes", len(p.VectorImage()))
	}
	if k.Backend() != p.Backend() {
		t.Error("kernel should drive the platform backend")
	}
	if Name != "hosted" {
		t.Errorf("Name: %s", Name)
	}
}

func TestHosted_Fatal(t *testing.T) {
	p, _ := New(Options{Headless: true, Out: &bytes.Buffer{}})
	p.Fatal(context.Canceled)
	// Halt is idempotent, so a later shutdown is harmless.
	p.Backend().Halt()
}
