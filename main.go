package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dotside-studios/nci-agent/buildinfo"
	"github.com/dotside-studios/nci-agent/config"
	"github.com/dotside-studios/nci-agent/nci"
)

var (
	configFlag  string
	portFlag    int
	verboseFlag bool
)

func main() {
	root := &cobra.Command{
		Use:     buildinfo.Name,
		Short:   buildinfo.Description,
		Version: buildinfo.FullVersion(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent()
		},
	}
	root.Flags().StringVarP(&configFlag, "config", "c", "", "path to the YAML configuration file")
	root.Flags().IntVarP(&portFlag, "port", "p", 0, "monitor feed port (overrides the config file)")
	root.Flags().BoolVarP(&verboseFlag, "verbose", "v", false, "debug logging")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print detailed build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(buildinfo.BuildInfo())
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runAgent() error {
	cfg := config.Default()
	if configFlag != "" {
		loaded, err := config.Load(configFlag)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if portFlag > 0 {
		cfg.MonitorPort = portFlag
	}

	log := logrus.New()
	if verboseFlag {
		log.SetLevel(logrus.DebugLevel)
	} else if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	// The daemon runs against a scripted in-memory core until a HAL-backed
	// nci.Core implementation is plugged in.
	core := nci.NewMockCore()

	agent, err := NewAgent(core, cfg, log)
	if err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("Shutting down...")
		agent.Stop()
		os.Exit(0)
	}()

	log.Infof("%s %s starting", buildinfo.DisplayName, buildinfo.FullVersion())
	return agent.Start()
}
