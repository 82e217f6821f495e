package topology_test

import (
	"context"
	"os"
	"testing"

	"github.com/datawire/dlib/dlog"
	"github.com/datawire/dtest"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/datawire/firebreak/pkg/conn"
	"github.com/datawire/firebreak/pkg/netns"

	"github.com/datawire/firebreak/internal/topology"
)

func TestMain(m *testing.M) {
	if err := netns.EnterNewUserNamespace(); err != nil {
		os.Exit(0)
	}
	dtest.WithMachineLock(context.Background(), func(context.Context) {
		os.Exit(m.Run())
	})
}

const sampleTopologyYAML = `
hosts:
  - name: target
    interfaces:
      - name: eth0
        cidr: 10.77.0.1/24
    nftRules: |
      table inet filter {
        chain input {
          type filter hook input priority 0; policy drop;
        }
      }
`

func TestLoadParsesConfig(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/topology.yaml", []byte(sampleTopologyYAML), 0o644))

	cfg, err := topology.Load(fs, "/topology.yaml")
	require.NoError(t, err)
	require.Len(t, cfg.Hosts, 1)
	require.Equal(t, "target", cfg.Hosts[0].Name)

	want := []topology.InterfaceConfig{{Name: "eth0", CIDR: "10.77.0.1/24"}}
	if diff := cmp.Diff(want, cfg.Hosts[0].Interfaces); diff != "" {
		t.Errorf("interfaces mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildAppliesDropRule(t *testing.T) {
	ctx := dlog.NewTestContext(t, false)

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/topology.yaml", []byte(sampleTopologyYAML), 0o644))
	cfg, err := topology.Load(fs, "/topology.yaml")
	require.NoError(t, err)

	topo, err := topology.Build(ctx, cfg)
	if err != nil {
		t.Skipf("cannot build topology in this environment: %v", err)
	}
	defer topo.Close()

	iface := topo.Interfaces["target/eth0"]
	require.NotNil(t, iface)

	effect, err := iface.InputPath().Connect(ctx, conn.Spec{Transport: conn.TCP, Port: 15400})
	require.NoError(t, err)
	require.Equal(t, conn.EffectUnreachable, effect.Kind)
}
