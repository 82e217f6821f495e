package conn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/datawire/dlib/dlog"
)

// probeTimeout bounds every probe: if neither side has produced a result by
// this deadline, the outcome is Unreachable.
const probeTimeout = 2 * time.Second

// connectWithTimeout runs connect and maps a timed-out context to
// EffectUnreachable, the way the reference implementation maps
// tokio::time::timeout's Elapsed.
func connectWithTimeout(ctx context.Context, p *osPath, spec Spec) (Effect, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	effect, err := connect(ctx, p, spec)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return Effect{Kind: EffectUnreachable}, nil
	}
	return effect, err
}

// connect runs one probe: it binds the server socket first (so the client
// can never race ahead of a listening/bound server), then runs the client
// and server concurrently. A client outcome of Refused or a client error
// cancels only the server side, and the server's resulting cancellation is
// not reported as an error of its own (a client error is still returned),
// matching the asymmetric cancellation the reference coordinator performs
// with its abort handle.
func connect(ctx context.Context, p *osPath, spec Spec) (Effect, error) {
	tr, err := transportFor(spec.Transport)
	if err != nil {
		return Effect{}, err
	}

	var bound io.Closer
	bindErr := p.targetNs.Scoped(ctx, func(ctx context.Context) error {
		b, err := tr.bindServer(p.targetAddr, spec.Port)
		if err != nil {
			return err
		}
		bound = b
		return nil
	})
	if bindErr != nil {
		return Effect{}, fmt.Errorf("binding %s probe server on %s: %w", spec.Transport, p.targetName, bindErr)
	}
	defer bound.Close()

	serverCtx, cancelServer := context.WithCancel(ctx)
	defer cancelServer()

	type serverResult struct {
		status serverOutcome
		err    error
	}
	serverDone := make(chan serverResult, 1)
	go func() {
		// bound was already created inside p.targetNs; accept/read on it
		// don't need the calling goroutine to be namespace-scoped, so this
		// runs on the plain cooperative scheduler instead of a second
		// dedicated, namespace-bound OS thread held for the whole wait.
		st, err := tr.server(serverCtx, bound)
		serverDone <- serverResult{status: st, err: err}
	}()

	var clientStatus clientOutcome
	clientErr := p.sourceNs.Scoped(ctx, func(ctx context.Context) error {
		st, err := tr.client(ctx, p.sourceAddr, p.targetAddr, spec.Port)
		clientStatus = st
		return err
	})

	if clientErr != nil || clientStatus.refused {
		dlog.Debugf(ctx, "conn: client %s on %s->%s refused=%v err=%v, cancelling server",
			spec.Transport, p.sourceName, p.targetName, clientStatus.refused, clientErr)
		cancelServer()
	}

	sr := <-serverDone

	if clientErr != nil {
		return Effect{}, fmt.Errorf("%s client on %s: %w", spec.Transport, p.sourceName, clientErr)
	}

	if clientStatus.refused {
		if sr.err != nil && errors.Is(sr.err, context.Canceled) {
			return Effect{Kind: EffectRefused}, nil
		}
		if sr.err == nil {
			// The server happened to finish before the cancellation
			// landed; the client's own view still governs the outcome.
			return Effect{Kind: EffectRefused}, nil
		}
		return Effect{}, fmt.Errorf("%s server on %s after client refusal: %w", spec.Transport, p.targetName, sr.err)
	}

	if sr.err != nil {
		return Effect{}, fmt.Errorf("%s server on %s: %w", spec.Transport, p.targetName, sr.err)
	}

	if sr.status.cookie != clientStatus.cookie {
		panic(fmt.Sprintf("conn: %s cookie mismatch on %s->%s", spec.Transport, p.sourceName, p.targetName))
	}

	return Effect{Kind: EffectOk, SourceAddr: sr.status.peerAddr}, nil
}
