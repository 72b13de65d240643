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
	"os/signal"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/gorilla/mux"
	"github.com/juju/clock"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Finatext/orgu/apiserver/controllers"
	"github.com/Finatext/orgu/apiserver/routers"
	"github.com/Finatext/orgu/cache"
	"github.com/Finatext/orgu/config"
	"github.com/Finatext/orgu/events"
	"github.com/Finatext/orgu/queue"
	"github.com/Finatext/orgu/util/github"
)

var frontCmd = &cobra.Command{
	Use:          "front",
	SilenceUsage: true,
	Short:        "Webhook ingress process",
	Long:         `Verifies GitHub webhooks, filters them and relays check requests to runners.`,
	Run:          nil,
}

var frontServerCmd = &cobra.Command{
	Use:          "server",
	Short:        "Serve the front process over HTTP",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals...)
		defer stop()

		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		if err := cfg.ValidateFront(); err != nil {
			return err
		}
		router, err := buildFrontRouter(ctx, cfg)
		if err != nil {
			return err
		}
		return serveHTTP(ctx, router, cfg.Front.Bind, cfg.Front.Port, cfg.Front.ShutdownTimeout.Std())
	},
}

var frontLambdaCmd = &cobra.Command{
	Use:          "lambda",
	Short:        "Serve the front process as a Lambda function behind a function URL or ALB",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		if err := cfg.ValidateFront(); err != nil {
			return err
		}
		router, err := buildFrontRouter(ctx, cfg)
		if err != nil {
			return err
		}
		adapter := httpadapter.New(router)
		lambda.StartWithOptions(adapter.ProxyWithContext, lambda.WithContext(ctx))
		return nil
	},
}

func buildFrontRouter(ctx context.Context, cfg *config.Config) (*mux.Router, error) {
	minter, err := github.NewTokenMinter(cfg.Github)
	if err != nil {
		return nil, errors.Wrap(err, "creating token minter")
	}
	tokens := cache.NewTokenCache(minter, clock.WallClock)
	ghCli, err := github.NewClient(cfg.Github, tokens)
	if err != nil {
		return nil, errors.Wrap(err, "creating github client")
	}
	canonicalizer := events.NewCanonicalizer(cfg.Github.InstallationID, ghCli, clock.WallClock)
	queueCli, err := queue.NewFromConfig(ctx, cfg.Front)
	if err != nil {
		return nil, errors.Wrap(err, "creating queue client")
	}
	controller := controllers.NewFrontController(cfg.Github.WebhookSecret, canonicalizer, queueCli, ghCli)
	return routers.NewFrontRouter(controller, os.Stdout), nil
}

func init() {
	frontCmd.AddCommand(
		frontServerCmd,
		frontLambdaCmd,
	)

	rootCmd.AddCommand(frontCmd)
}
