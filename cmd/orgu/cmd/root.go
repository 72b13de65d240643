// Copyright 2024 Finatext Ltd.
//
//    Licensed under the Apache License, Version 2.0 (the "License"); you may
//    not use this file except in compliance with the License. You may obtain
//    a copy of the License at
//
//         http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
//    WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
//    License for the specific language governing permissions and limitations
//    under the License.

package cmd

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Finatext/orgu/config"
	"github.com/Finatext/orgu/metrics"
	"github.com/Finatext/orgu/util"
	"github.com/Finatext/orgu/util/ssmenv"
)

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "orgu",
	Short: "Organization-wide GitHub checks",
	Long:  `Runs a single GitHub App check across every repository of an organization.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "orgu config file (optional, env vars take precedence)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves ssm:// env vars, loads configuration and installs
// the process-wide logger and metrics. Server commands call it once on
// startup.
func loadConfig(ctx context.Context) (*config.Config, error) {
	if err := ssmenv.ResolveEnv(ctx); err != nil {
		return nil, errors.Wrap(err, "resolving ssm env vars")
	}
	cfg, err := config.NewConfig(cfgFile)
	if err != nil {
		return nil, errors.Wrap(err, "fetching config")
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	util.SetupLogging(cfg.LogLevel)
	if err := metrics.RegisterMetrics(); err != nil {
		return nil, errors.Wrap(err, "registering metrics")
	}
	return cfg, nil
}
