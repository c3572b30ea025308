package bind_group_provider_test

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-shader/engine/renderer/bind_group_provider"
)

func TestNewBindGroupProvider(t *testing.T) {
	p := bind_group_provider.NewBindGroupProvider("lit/brick set 1", bind_group_provider.WithSet(1))
	if p.Label() != "lit/brick set 1" || p.Set() != 1 {
		t.Fatalf("provider = %q at set %d", p.Label(), p.Set())
	}
	if p.BindGroup() != nil || p.BindGroupLayout() != nil {
		t.Fatal("fresh provider holds GPU objects")
	}
	if len(p.Buffers()) != 0 || p.Buffer(0) != nil || p.TextureView(0) != nil || p.Sampler(0) != nil {
		t.Fatal("fresh provider has resources")
	}

	// nothing was created, so both releases are no-ops
	p.Release()
	p.Release()
}
