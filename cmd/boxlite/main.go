// Command boxlite is a thin CLI over the boxlite library: create,
// start, stop, list, and remove boxes against a single home directory.
// Mirrors cmd/warren's persistent-flag + cobra.OnInitialize(initLogging)
// shape, deliberately minimal since the CLI surface is out of core scope.
package main

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/boxlite"
	"github.com/cuemby/boxlite/internal/boxlog"
	"github.com/cuemby/boxlite/internal/boxtypes"
	"github.com/cuemby/boxlite/internal/collab/fake"
	"github.com/cuemby/boxlite/internal/metrics"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "boxlite",
	Short:   "boxlite - a local runtime for lightweight, image-backed micro-VM sandboxes",
	Version: Version,
}

// imageStore is shared process-wide: an image registered by `image load`
// is visible to later pulls in the same process only. Each CLI
// invocation is its own process, so `start` of a box whose image was
// loaded by an earlier invocation fails to pull it, the way a real
// puller failing to resolve a reference would (`create` does not pull).
// See internal/collab/fake's doc comment: this core wires no real OCI
// puller or VMM binary.
var imageStore = fake.NewImageStore()

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("boxlite version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("home", "./boxlite-data", "Home directory for box state, images, and disks")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("metrics-addr", "", "If set, serve Prometheus metrics at this address (e.g. 127.0.0.1:9090)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(imageCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	boxlog.Init(boxlog.Config{
		Level:      boxlog.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func openRuntime(cmd *cobra.Command) (*boxlite.Runtime, error) {
	home, _ := cmd.Flags().GetString("home")
	rt, err := boxlite.New(boxlite.RuntimeOptions{Home: home, Images: imageStore})
	if err != nil {
		return nil, err
	}
	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		startMetricsServer(addr, rt)
	}
	return rt, nil
}

var metricsServerOnce sync.Once

// startMetricsServer exposes /metrics over HTTP and keeps its gauges in
// sync with the runtime's atomic counters, mirroring cmd/warren's
// "metrics collector + http.Handle(\"/metrics\", metrics.Handler())"
// background-server shape. Only the first caller per process starts it.
func startMetricsServer(addr string, rt *boxlite.Runtime) {
	metricsServerOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for range ticker.C {
				metrics.Sync(rt.Metrics())
			}
		}()
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(addr, mux); err != nil {
				boxlog.WithComponent("cli").Warn().Err(err).Msg("metrics server exited")
			}
		}()
		boxlog.WithComponent("cli").Info().Str("addr", addr).Msg("serving prometheus metrics")
	})
}

var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Manage the in-memory image store boxlite pulls from",
}

var imageLoadCmd = &cobra.Command{
	Use:   "load REF LAYER_DIR",
	Short: "Register a local directory as a fake image's single layer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref, layerDir := args[0], args[1]
		cmdLine, _ := cmd.Flags().GetString("cmd")
		imageStore.Register(ref, fake.NewImage([]string{layerDir}, boxtypes.OciConfig{
			Cmd: strings.Fields(cmdLine),
		}))
		fmt.Printf("loaded %s from %s\n", ref, layerDir)
		return nil
	},
}

func init() {
	imageLoadCmd.Flags().String("cmd", "/bin/sh", "Default command baked into the loaded image config")
	imageCmd.AddCommand(imageLoadCmd)
}

var createCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Register a new box (does not start its VMM)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		image, _ := cmd.Flags().GetString("image")
		cpus, _ := cmd.Flags().GetInt("cpus")
		memory, _ := cmd.Flags().GetInt("memory")
		autoRemove, _ := cmd.Flags().GetBool("auto-remove")
		isolateMounts, _ := cmd.Flags().GetBool("isolate-mounts")
		ports, _ := cmd.Flags().GetStringArray("port")

		portMaps, err := parsePortMappings(ports)
		if err != nil {
			return err
		}

		opts := boxlite.DefaultBoxOptions()
		opts.Rootfs = boxlite.RootfsSpec{Kind: boxlite.RootfsImage, Image: image}
		opts.CPUs = cpus
		opts.MemoryMiB = memory
		opts.AutoRemove = autoRemove
		opts.IsolateMounts = isolateMounts
		opts.Ports = portMaps

		h, err := rt.Create(args[0], opts)
		if err != nil {
			return err
		}
		fmt.Println(h.ID())
		return nil
	},
}

func init() {
	createCmd.Flags().String("image", "", "Image reference to pull the container rootfs from")
	createCmd.Flags().Int("cpus", 1, "Number of vCPUs")
	createCmd.Flags().Int("memory", 512, "Memory in MiB")
	createCmd.Flags().Bool("auto-remove", false, "Remove the box automatically on stop")
	createCmd.Flags().Bool("isolate-mounts", false, "Expose a read-only bind-mount view of mounts/ under shared/")
	createCmd.Flags().StringArray("port", nil, "host:guest TCP port mapping, repeatable")
	_ = createCmd.MarkFlagRequired("image")
}

func parsePortMappings(raw []string) ([]boxtypes.PortMapping, error) {
	out := make([]boxtypes.PortMapping, 0, len(raw))
	for _, p := range raw {
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid port mapping %q, want host:guest", p)
		}
		host, err := strconv.ParseUint(parts[0], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid host port in %q: %w", p, err)
		}
		guest, err := strconv.ParseUint(parts[1], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid guest port in %q: %w", p, err)
		}
		out = append(out, boxtypes.PortMapping{
			Host: uint16(host), Guest: uint16(guest), Protocol: boxtypes.ProtocolTCP,
		})
	}
	return out, nil
}

var startCmd = &cobra.Command{
	Use:   "start ID_OR_NAME [-- CMD ARGS...]",
	Short: "Run a command inside a box, initializing it first if needed",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		h, err := rt.Get(args[0])
		if err != nil {
			return err
		}

		cmdArgs := args[1:]
		if len(cmdArgs) == 0 {
			cmdArgs = []string{"/bin/sh"}
		}

		exec, err := h.Exec(cmd.Context(), boxlite.BoxCommand{Args: cmdArgs})
		if err != nil {
			return err
		}
		code, err := exec.Wait(cmd.Context())
		if err != nil {
			return err
		}
		if code != 0 {
			os.Exit(code)
		}
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop ID_OR_NAME",
	Short: "Gracefully stop a box's guest and VMM",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		h, err := rt.Get(args[0])
		if err != nil {
			return err
		}
		return h.Stop(cmd.Context())
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List every known box",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		infos := rt.ListInfo()
		if len(infos) == 0 {
			fmt.Println("No boxes found")
			return nil
		}
		fmt.Printf("%-28s %-12s %-10s %s\n", "ID", "NAME", "STATUS", "CONTAINER")
		for _, info := range infos {
			fmt.Printf("%-28s %-12s %-10s %s\n", info.ID, info.Name, info.Status, info.ContainerID)
		}
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm ID_OR_NAME",
	Short: "Remove a box's store row and on-disk subtree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()

		force, _ := cmd.Flags().GetBool("force")
		return rt.Remove(cmd.Context(), args[0], force)
	},
}

func init() {
	rmCmd.Flags().Bool("force", false, "Kill the VMM and remove even if the box is active")
}
