package host_test

import (
	"context"
	"net"
	"os"
	"testing"

	"github.com/datawire/dlib/dlog"
	"github.com/datawire/dtest"
	"github.com/stretchr/testify/require"

	"github.com/datawire/firebreak/pkg/conn"
	"github.com/datawire/firebreak/pkg/netns"

	"github.com/datawire/firebreak/internal/host"
)

func TestMain(m *testing.M) {
	if err := netns.EnterNewUserNamespace(); err != nil {
		os.Exit(0)
	}
	dtest.WithMachineLock(context.Background(), func(context.Context) {
		os.Exit(m.Run())
	})
}

func newTestHost(t *testing.T, ctx context.Context, name string) *host.Host {
	t.Helper()
	h, err := host.New(ctx, name)
	if err != nil {
		t.Skipf("cannot create host namespace in this environment: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func newTestInterface(t *testing.T, ctx context.Context, h *host.Host, cidr string) *host.Interface {
	t.Helper()
	addr, network, err := net.ParseCIDR(cidr)
	require.NoError(t, err)
	network.IP = addr

	iface, err := h.NewInterface(ctx, network)
	if err != nil {
		t.Skipf("cannot create interface in this environment: %v", err)
	}
	t.Cleanup(func() { iface.Close() })
	return iface
}

const emptyInputRules = `
table inet filter {
	chain input {
		type filter hook input priority 0;
	}
}
`

const dropInputRules = `
table inet filter {
	chain input {
		type filter hook input priority 0; policy drop;
	}
}
`

const rejectInputRules = `
table inet filter {
	chain input {
		type filter hook input priority 0;
		reject
	}
}
`

func TestInputPathOutcomes(t *testing.T) {
	cases := []struct {
		name      string
		rules     string
		transport conn.Transport
		want      conn.EffectKind
	}{
		{"accept-tcp", emptyInputRules, conn.TCP, conn.EffectOk},
		{"accept-udp", emptyInputRules, conn.UDP, conn.EffectOk},
		{"drop-tcp", dropInputRules, conn.TCP, conn.EffectUnreachable},
		{"drop-udp", dropInputRules, conn.UDP, conn.EffectUnreachable},
		{"reject-tcp", rejectInputRules, conn.TCP, conn.EffectRefused},
		{"reject-udp", rejectInputRules, conn.UDP, conn.EffectRefused},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ctx := dlog.NewTestContext(t, false)

			h := newTestHost(t, ctx, "target")
			iface := newTestInterface(t, ctx, h, "10.88.0.1/24")

			require.NoError(t, h.LoadNftRules(ctx, tc.rules))

			effect, err := iface.InputPath().Connect(ctx, conn.Spec{Transport: tc.transport, Port: 15300})
			require.NoError(t, err)
			require.Equal(t, tc.want, effect.Kind)
		})
	}
}

func TestOutputPathAccepts(t *testing.T) {
	ctx := dlog.NewTestContext(t, false)

	h := newTestHost(t, ctx, "source")
	iface := newTestInterface(t, ctx, h, "10.89.0.1/24")

	effect, err := iface.OutputPath().Connect(ctx, conn.Spec{Transport: conn.TCP, Port: 15301})
	require.NoError(t, err)
	require.Equal(t, conn.EffectOk, effect.Kind)
	require.True(t, effect.SourceAddr.Equal(iface.Addr()))
}

func TestForwardPathRoutesThroughRouter(t *testing.T) {
	ctx := dlog.NewTestContext(t, false)

	router := newTestHost(t, ctx, "router")
	require.NoError(t, router.EnableForwarding(ctx))

	left := newTestInterface(t, ctx, router, "10.90.1.1/24")
	right := newTestInterface(t, ctx, router, "10.90.2.1/24")

	path, err := host.ForwardPath(ctx, left, right)
	require.NoError(t, err)

	effect, err := path.Connect(ctx, conn.Spec{Transport: conn.TCP, Port: 15302})
	require.NoError(t, err)
	require.Equal(t, conn.EffectOk, effect.Kind)
}
