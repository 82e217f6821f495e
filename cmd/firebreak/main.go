// Command firebreak builds an ephemeral network topology out of Linux
// network namespaces and veth pairs, loads nftables rules onto it, and runs
// connection probes against it to observe what the firewall did.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/datawire/dlib/dgroup"
	"github.com/datawire/dlib/dlog"

	"github.com/datawire/firebreak/internal/topology"
	"github.com/datawire/firebreak/pkg/conn"
	"github.com/datawire/firebreak/pkg/netns"
)

func main() {
	// Must run before any other goroutine touches namespaces: once a
	// second thread exists, unsharing a user namespace for the whole
	// process is no longer safe.
	if err := netns.EnterNewUserNamespace(); err != nil {
		fmt.Fprintln(os.Stderr, "firebreak: entering user namespace:", err)
		os.Exit(1)
	}

	ctx := dlog.WithLogger(context.Background(), dlog.WrapLogrus(rootLogger()))

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func rootLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(os.Getenv("FIREBREAK_LOGLEVEL")); err == nil {
		logger.SetLevel(lvl)
	}
	return logger
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "firebreak",
		Short:        "run firewall-behavior connection probes against an ephemeral network topology",
		SilenceUsage: true,
	}
	root.AddCommand(probeCommand())
	return root
}

func probeCommand() *cobra.Command {
	var (
		topologyPath  string
		interfaceName string
		direction     string
		transportName string
		port          uint16
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "build a topology from a YAML file and run one probe against it",
		RunE: func(cmd *cobra.Command, args []string) error {
			g := dgroup.NewGroup(cmd.Context(), dgroup.GroupConfig{EnableSignalHandling: true})
			g.Go("probe", func(ctx context.Context) error {
				return runProbe(ctx, topologyPath, interfaceName, direction, transportName, port)
			})
			return g.Wait()
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&topologyPath, "topology", "", "path to a topology YAML file")
	flags.StringVar(&interfaceName, "interface", "", `interface to probe, as "host/interface"`)
	flags.StringVar(&direction, "direction", "input", `probe direction: "input" or "output"`)
	flags.StringVar(&transportName, "transport", "tcp", `probe transport: "tcp" or "udp"`)
	flags.Uint16Var(&port, "port", 0, "destination port")
	for _, name := range []string{"topology", "interface", "port"} {
		if err := cmd.MarkFlagRequired(name); err != nil {
			panic(err)
		}
	}

	return cmd
}

func runProbe(ctx context.Context, topologyPath, interfaceName, direction, transportName string, port uint16) error {
	cfg, err := topology.Load(afero.NewOsFs(), topologyPath)
	if err != nil {
		return err
	}

	topo, err := topology.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("building topology: %w", err)
	}
	defer func() {
		if err := topo.Close(); err != nil {
			dlog.Errorf(ctx, "tearing down topology: %v", err)
		}
	}()

	iface, ok := topo.Interfaces[interfaceName]
	if !ok {
		return fmt.Errorf("no such interface %q in topology", interfaceName)
	}

	var path conn.Path
	switch direction {
	case "input":
		path = iface.InputPath()
	case "output":
		path = iface.OutputPath()
	default:
		return fmt.Errorf("unknown direction %q, want \"input\" or \"output\"", direction)
	}

	var transport conn.Transport
	switch transportName {
	case "tcp":
		transport = conn.TCP
	case "udp":
		transport = conn.UDP
	default:
		return fmt.Errorf("unknown transport %q, want \"tcp\" or \"udp\"", transportName)
	}

	effect, err := path.Connect(ctx, conn.Spec{Transport: transport, Port: port})
	if err != nil {
		return fmt.Errorf("probing %s -> %s: %w", path.SourceName(), path.TargetName(), err)
	}

	dlog.Infof(ctx, "probe %s %s -> %s:%d: %s", transportName, path.SourceName(), path.TargetName(), port, effect)
	fmt.Println(effect)
	return nil
}
