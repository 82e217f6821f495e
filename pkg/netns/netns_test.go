package netns_test

import (
	"context"
	"os"
	"testing"

	"github.com/datawire/dlib/dlog"
	"github.com/datawire/dtest"
	"github.com/stretchr/testify/require"

	"github.com/datawire/firebreak/pkg/netns"
)

// TestMain mirrors original_source/src/main.rs's INIT guard: entering a new
// user namespace must happen before any other goroutine does
// namespace-sensitive work. Environments that forbid CLONE_NEWUSER (some
// sandboxes, some CI runners) skip the whole package rather than fail it.
// WithMachineLock serializes this package's run against every other package
// that also mutates host-global namespace and interface state, since `go
// test ./...` runs package binaries concurrently by default.
func TestMain(m *testing.M) {
	if err := netns.EnterNewUserNamespace(); err != nil {
		os.Exit(0)
	}
	dtest.WithMachineLock(context.Background(), func(context.Context) {
		os.Exit(m.Run())
	})
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	return dlog.NewTestContext(t, false)
}

func TestNewHasStablePath(t *testing.T) {
	ctx := testContext(t)

	ns, err := netns.New(ctx)
	if err != nil {
		t.Skipf("cannot create network namespace in this environment: %v", err)
	}
	defer ns.Close()

	require.NotEmpty(t, ns.Path())
	_, err = os.Stat(ns.Path())
	require.NoError(t, err, "namespace path must remain valid after creation")
}

func TestScopedRunsInNamespace(t *testing.T) {
	ctx := testContext(t)

	ns, err := netns.New(ctx)
	if err != nil {
		t.Skipf("cannot create network namespace in this environment: %v", err)
	}
	defer ns.Close()

	err = ns.ScopedProcess(ctx, "ip", "link", "set", "lo", "up")
	require.NoError(t, err, "bringing up loopback inside the fresh namespace should succeed")

	out, err := ns.ScopedOutput(ctx, "ip", "link", "show", "lo")
	require.NoError(t, err)
	require.Contains(t, string(out), "LOOPBACK")
}

func TestScopedSurvivesOriginatingThreadExit(t *testing.T) {
	ctx := testContext(t)

	ns, err := netns.New(ctx)
	if err != nil {
		t.Skipf("cannot create network namespace in this environment: %v", err)
	}
	defer ns.Close()

	// The goroutine that created ns has already exited by the time New
	// returns; running more work in ns later proves the keep-alive fd,
	// not the original thread, is what matters.
	err = ns.Scoped(ctx, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
}
