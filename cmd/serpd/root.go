package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/FranksOps/serpd/internal/config"
)

type rootOptions struct {
	configFile string
	v          *viper.Viper
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: config.New()}

	cmd := &cobra.Command{
		Use:          "serpd",
		Short:        "Run Google searches through a headless browser and return the results as JSON",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn or error")
	cmd.PersistentFlags().String("log-format", "text", "log format: text or json")
	cmd.PersistentFlags().String("storage", "", "audit log backend as scheme:target (sqlite, postgres, json, csv)")
	_ = opts.v.BindPFlag("log.level", cmd.PersistentFlags().Lookup("log-level"))
	_ = opts.v.BindPFlag("log.format", cmd.PersistentFlags().Lookup("log-format"))
	_ = opts.v.BindPFlag("storage", cmd.PersistentFlags().Lookup("storage"))

	cmd.AddCommand(newServeCmd(opts), newReportCmd(opts))
	return cmd
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(o.v, o.configFile)
}
