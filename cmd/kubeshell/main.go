package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cuemby/kubeshell/internal/log"
	"github.com/cuemby/kubeshell/internal/session"
	"github.com/cuemby/kubeshell/internal/version"
)

// Version is the tool's own version string, set via ldflags during
// build and also consulted by the pod resolver's companion-image
// check.
var Version = "dev"

const companionImage = "telepresence-k8s"

func main() {
	version.Version = Version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "kubeshell",
	Short:   "Run a local shell that looks, from the network's perspective, like it's inside a cluster pod",
	Version: Version,
	RunE:    run,
}

func init() {
	flags := rootCmd.Flags()
	flags.String("deployment", "", "adopt the existing deployment NAME")
	flags.String("new-deployment", "", "create and adopt a new deployment NAME")
	flags.String("namespace", "", "cluster namespace (default: the control-plane client's active namespace)")
	flags.IntSlice("expose", nil, "local port to expose to the cluster (repeatable)")
	flags.Bool("run-shell", false, "reserved for future alternative modes")
	flags.String("logfile", "./telepresence.log", "log file path, or - for standard output")
	flags.String("kubectl", "", "path to the control-plane client binary (default: $KUBECTL or \"kubectl\")")
	flags.String("ssh", "", "path to the ssh client binary (default: \"ssh\")")
	flags.String("wrapper-bin", "kubeshell-socks-wrapper", "path to the SOCKS-wrapper binary")
	flags.String("shell", os.Getenv("SHELL"), "shell to launch (default: $SHELL)")
	flags.String("metrics-addr", "", "if set, serve Prometheus metrics on this address")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.MarkFlagsMutuallyExclusive("deployment", "new-deployment")
	_ = flags.MarkHidden("run-shell")
}

func run(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()

	deployment, _ := flags.GetString("deployment")
	newDeployment, _ := flags.GetString("new-deployment")
	if deployment == "" && newDeployment == "" {
		return fmt.Errorf("exactly one of --deployment or --new-deployment is required")
	}

	workload := deployment
	createWorkload := false
	if newDeployment != "" {
		workload = newDeployment
		createWorkload = true
	}

	namespace, _ := flags.GetString("namespace")
	exposed, _ := flags.GetIntSlice("expose")
	logfile, _ := flags.GetString("logfile")
	kubectlBin, _ := flags.GetString("kubectl")
	sshBin, _ := flags.GetString("ssh")
	wrapperBin, _ := flags.GetString("wrapper-bin")
	shellBin, _ := flags.GetString("shell")
	metricsAddr, _ := flags.GetString("metrics-addr")
	logLevel, _ := flags.GetString("log-level")

	sink, closeSink, err := openLogSink(logfile)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer closeSink()

	log.Init(log.Config{Level: log.Level(logLevel), Output: sink})

	configDir, err := os.MkdirTemp("", "kubeshell-")
	if err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	defer os.RemoveAll(configDir)

	cfg := session.Config{
		Namespace:      namespace,
		Workload:       workload,
		CreateWorkload: createWorkload,
		Image:          version.Registry() + "/" + companionImage + ":" + version.Effective(),
		ExposedPorts:   exposed,
		Shell:          shellBin,
		WrapperBin:     wrapperBin,
		SSHBin:         sshBin,
		KubectlBin:     kubectlBin,
		LogPath:        realLogPath(logfile),
		ConfigDir:      configDir,
		MetricsAddr:    metricsAddr,
		Version:        version.Effective(),
	}

	ctrl := session.New(cfg, sink, log.Logger)
	code := ctrl.Run(context.Background())

	// os.Exit below skips pending defers, so the cleanup they'd have
	// run (closing the log sink, removing the temp config directory)
	// is done explicitly here first.
	closeSink()
	_ = os.RemoveAll(configDir)
	os.Exit(code)
	return nil
}

// openLogSink returns the writer children's combined output and the
// structured logger are written to: standard output for "-", or a
// file truncated at session start otherwise.
func openLogSink(path string) (*os.File, func(), error) {
	if path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

// realLogPath returns path unless it names standard output, in which
// case the wrapper has no real file to point at.
func realLogPath(path string) string {
	if strings.TrimSpace(path) == "-" {
		return ""
	}
	return path
}
