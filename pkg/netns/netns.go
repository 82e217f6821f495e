// Package netns provides a handle to a Linux network namespace and a way to
// run synchronous work — including external commands — inside it without
// disturbing the goroutine scheduler's own OS threads.
package netns

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/datawire/dlib/dlog"
)

// Ns is a handle to a Linux network namespace, reachable at a stable path
// under /proc even after the thread that created it has exited.
type Ns struct {
	fd   *os.File
	path string
}

// EnterNewUserNamespace unshares a new user namespace for the calling
// process and maps the caller's uid/gid to root within it, so that later
// CLONE_NEWNET operations don't require host root. It must be called before
// any other goroutine has started doing namespace-sensitive work, per the
// calling convention original_source/src/main.rs enforces with its INIT
// guard.
func EnterNewUserNamespace() error {
	uid := os.Getuid()
	gid := os.Getgid()

	if err := unix.Unshare(unix.CLONE_NEWUSER); err != nil {
		return fmt.Errorf("unshare CLONE_NEWUSER: %w", err)
	}
	if err := os.WriteFile("/proc/self/setgroups", []byte("deny"), 0o644); err != nil {
		return fmt.Errorf("write /proc/self/setgroups: %w", err)
	}
	if err := os.WriteFile("/proc/self/uid_map", []byte(fmt.Sprintf("0 %d 1", uid)), 0o644); err != nil {
		return fmt.Errorf("write /proc/self/uid_map: %w", err)
	}
	if err := os.WriteFile("/proc/self/gid_map", []byte(fmt.Sprintf("0 %d 1", gid)), 0o644); err != nil {
		return fmt.Errorf("write /proc/self/gid_map: %w", err)
	}
	return nil
}

type newNetResult struct {
	fd  *os.File
	err error
}

// New creates a fresh, empty network namespace and returns a handle to it.
// The namespace outlives the OS thread used to create it: opening its
// /proc/thread-self/ns/net file keeps the kernel's namespace object alive
// even once that thread exits.
func New(ctx context.Context) (*Ns, error) {
	result := make(chan newNetResult, 1)

	go func() {
		runtime.LockOSThread()
		// Deliberately never unlocked: once this goroutine returns, Go
		// destroys the underlying OS thread instead of recycling it back
		// into the scheduler with an unshared netns still attached.

		if err := unix.Unshare(unix.CLONE_NEWNET); err != nil {
			result <- newNetResult{err: fmt.Errorf("unshare CLONE_NEWNET: %w", err)}
			return
		}
		fd, err := os.Open("/proc/thread-self/ns/net")
		if err != nil {
			result <- newNetResult{err: fmt.Errorf("open /proc/thread-self/ns/net: %w", err)}
			return
		}
		result <- newNetResult{fd: fd}
	}()

	r := <-result
	if r.err != nil {
		return nil, r.err
	}

	ns := &Ns{
		fd:   r.fd,
		path: fmt.Sprintf("/proc/%d/fd/%d", os.Getpid(), r.fd.Fd()),
	}
	dlog.Debugf(ctx, "netns: created %s", ns.path)
	return ns, nil
}

// Path returns the stable filesystem path of the namespace, suitable for
// passing to "ip netns" style tooling or for use with setns(2).
func (ns *Ns) Path() string {
	return ns.path
}

// Close releases the namespace's keep-alive file descriptor. The namespace
// itself is destroyed by the kernel once nothing else references it.
func (ns *Ns) Close() error {
	return ns.fd.Close()
}

type scopedResult struct {
	err error
}

// Scoped runs fn on a fresh goroutine locked to its own OS thread, which is
// switched into ns via setns(2), and waits for fn to return. The calling
// goroutine's thread is left alone. fn must not spawn goroutines that outlive the call
// and assume they stay in ns — only the dedicated thread created for this
// call is moved.
func (ns *Ns) Scoped(ctx context.Context, fn func(ctx context.Context) error) error {
	result := make(chan scopedResult, 1)

	go func() {
		runtime.LockOSThread()
		// As in New, this thread is never unlocked: it either finishes the
		// call in ns and then dies, or it dies having been left in ns. Both
		// are fine because it never returns to the scheduler's pool.

		if err := unix.Setns(int(ns.fd.Fd()), unix.CLONE_NEWNET); err != nil {
			result <- scopedResult{err: fmt.Errorf("setns: %w", err)}
			return
		}
		result <- scopedResult{err: fn(ctx)}
	}()

	r := <-result
	return r.err
}

// ScopedProcess runs an external command inside ns and returns an error
// unless it exits successfully. Combined stdout/stderr is logged at debug
// level on success and included in the error on failure.
func (ns *Ns) ScopedProcess(ctx context.Context, name string, args ...string) error {
	return ns.ScopedProcessWithInput(ctx, nil, name, args...)
}

// ScopedProcessWithInput is like ScopedProcess but feeds input to the
// command's stdin.
func (ns *Ns) ScopedProcessWithInput(ctx context.Context, input []byte, name string, args ...string) error {
	return ns.Scoped(ctx, func(ctx context.Context) error {
		cmd := exec.Command(name, args...)
		if input != nil {
			cmd.Stdin = bytes.NewReader(input)
		}
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("%s %v: %w: %s", name, args, err, out)
		}
		dlog.Debugf(ctx, "%s %v: %s", name, args, out)
		return nil
	})
}

// ScopedOutput is like ScopedProcess but returns the command's stdout.
func (ns *Ns) ScopedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	var out []byte
	err := ns.Scoped(ctx, func(ctx context.Context) error {
		cmd := exec.Command(name, args...)
		o, err := cmd.Output()
		out = o
		if err != nil {
			return fmt.Errorf("%s %v: %w", name, args, err)
		}
		return nil
	})
	return out, err
}
