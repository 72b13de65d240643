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
	"encoding/json"
	"io"
	"os"
	"os/signal"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/juju/clock"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Finatext/orgu/apiserver/controllers"
	"github.com/Finatext/orgu/apiserver/routers"
	"github.com/Finatext/orgu/cache"
	"github.com/Finatext/orgu/checkout"
	"github.com/Finatext/orgu/config"
	"github.com/Finatext/orgu/params"
	"github.com/Finatext/orgu/queue"
	"github.com/Finatext/orgu/runner"
	"github.com/Finatext/orgu/util/github"
)

var runnerCmd = &cobra.Command{
	Use:          "runner",
	SilenceUsage: true,
	Short:        "Job execution process",
	Long: `Consumes check requests, checks out the target repository and runs the
configured job, reporting the result as a GitHub check run. The job
command comes from ORGU_JOB_COMMAND or trailing args after "--".`,
	Run: nil,
}

var runnerServerCmd = &cobra.Command{
	Use:          "server [-- command args...]",
	Short:        "Serve the runner process over HTTP",
	SilenceUsage: true,
	Args:         cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals...)
		defer stop()

		cfg, err := loadRunnerConfig(ctx, args)
		if err != nil {
			return err
		}
		dispatcher, err := buildDispatcher(cfg)
		if err != nil {
			return err
		}
		controller := controllers.NewRunnerController(dispatcher)
		router := routers.NewRunnerRouter(controller, os.Stdout)
		return serveHTTP(ctx, router, cfg.Runner.Bind, cfg.Runner.Port, cfg.Runner.ShutdownTimeout.Std())
	},
}

var runnerLambdaCmd = &cobra.Command{
	Use:          "lambda [-- command args...]",
	Short:        "Consume check requests as an EventBridge Lambda target",
	SilenceUsage: true,
	Args:         cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadRunnerConfig(ctx, args)
		if err != nil {
			return err
		}
		dispatcher, err := buildDispatcher(cfg)
		if err != nil {
			return err
		}
		handler := func(ctx context.Context, raw json.RawMessage) error {
			req, err := queue.DecodeBusEvent(raw)
			if err != nil {
				return err
			}
			return dispatcher.HandleCheckRequest(ctx, req)
		}
		lambda.StartWithOptions(handler, lambda.WithContext(ctx))
		return nil
	},
}

var runnerOneshotCmd = &cobra.Command{
	Use:          "oneshot <file> [-- command args...]",
	Short:        "Dispatch a single check request from a JSON file, - for stdin",
	SilenceUsage: true,
	Args:         cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals...)
		defer stop()

		cfg, err := loadRunnerConfig(ctx, args[1:])
		if err != nil {
			return err
		}
		dispatcher, err := buildDispatcher(cfg)
		if err != nil {
			return err
		}

		var body []byte
		if args[0] == "-" {
			body, err = io.ReadAll(os.Stdin)
		} else {
			body, err = os.ReadFile(args[0])
		}
		if err != nil {
			return errors.Wrap(err, "reading check request")
		}
		var req params.CheckRequest
		if err := json.Unmarshal(body, &req); err != nil {
			return errors.Wrap(err, "decoding check request")
		}
		return dispatcher.HandleCheckRequest(ctx, req)
	},
}

func loadRunnerConfig(ctx context.Context, commandArgs []string) (*config.Config, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	if len(commandArgs) > 0 {
		cfg.Runner.Command = commandArgs
	}
	if err := cfg.ValidateRunner(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildDispatcher(cfg *config.Config) (*runner.Dispatcher, error) {
	minter, err := github.NewTokenMinter(cfg.Github)
	if err != nil {
		return nil, errors.Wrap(err, "creating token minter")
	}
	tokens := cache.NewTokenCache(minter, clock.WallClock)
	ghCli, err := github.NewClient(cfg.Github, tokens)
	if err != nil {
		return nil, errors.Wrap(err, "creating github client")
	}
	engine := checkout.NewGitEngine(checkout.Config{
		CloneBaseURL: cfg.Github.CloneBaseURL,
		Depth:        cfg.Runner.FetchDepth,
		Timeout:      cfg.Runner.CheckoutTimeout.Std(),
	})
	executor := runner.NewCommandExecutor(cfg.Runner)
	return runner.NewDispatcher(cfg.Runner, ghCli, tokens, engine, executor), nil
}

func init() {
	runnerCmd.AddCommand(
		runnerServerCmd,
		runnerLambdaCmd,
		runnerOneshotCmd,
	)

	rootCmd.AddCommand(runnerCmd)
}
