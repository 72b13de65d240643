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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Finatext/orgu/pattern"
)

var (
	patternCustomProps map[string]string
	patternFile        string
	patternEventType   string
	patternAction      string
	patternOwner       string
	patternRepo        string
	patternSender      string
	patternPrintEvent  bool
)

var patternCmd = &cobra.Command{
	Use:          "pattern",
	SilenceUsage: true,
	Short:        "Develop EventBridge event patterns",
	Long:         `Generates and tests the event patterns runner subscriptions use.`,
	Run:          nil,
}

var patternGenerateCmd = &cobra.Command{
	Use:          "generate <pull_request|check_suite>",
	Short:        "Print an event pattern for the given webhook event",
	SilenceUsage: true,
	Args:         cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		p := pattern.Generate(pattern.EventType(args[0]), patternCustomProps)
		out, err := json.MarshalIndent(p, "", "  ")
		if err != nil {
			return errors.Wrap(err, "marshaling pattern")
		}
		fmt.Println(string(out))
		return nil
	},
}

var patternTestCmd = &cobra.Command{
	Use:          "test",
	Short:        "Test an event pattern against an example check request event",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		event, err := pattern.ExampleEvent(pattern.ExampleInput{
			EventType:    pattern.EventType(patternEventType),
			Action:       patternAction,
			Owner:        patternOwner,
			Repo:         patternRepo,
			Sender:       patternSender,
			CustomProps:  patternCustomProps,
			ReceivedTime: time.Now(),
		})
		if err != nil {
			return err
		}
		if patternPrintEvent {
			fmt.Println(string(event))
			return nil
		}

		if patternFile == "" {
			return errors.New("missing --pattern-file")
		}
		var patternBody []byte
		if patternFile == "-" {
			patternBody, err = io.ReadAll(os.Stdin)
		} else {
			patternBody, err = os.ReadFile(patternFile)
		}
		if err != nil {
			return errors.Wrap(err, "reading pattern")
		}

		ctx := cmd.Context()
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return errors.Wrap(err, "loading aws config")
		}
		matched, err := pattern.Test(ctx, eventbridge.NewFromConfig(awsCfg), event, patternBody)
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.AppendHeader(table.Row{"Field", "Value"})
		t.AppendRow(table.Row{"Event", fmt.Sprintf("%s/%s", patternEventType, patternAction)})
		t.AppendRow(table.Row{"Repository", fmt.Sprintf("%s/%s", patternOwner, patternRepo)})
		t.AppendRow(table.Row{"Matched", matched})
		fmt.Println(t.Render())
		return nil
	},
}

func init() {
	patternGenerateCmd.Flags().StringToStringVarP(&patternCustomProps, "custom-props", "c", nil, "repository custom properties to match, key=value")

	patternTestCmd.Flags().StringVarP(&patternFile, "pattern-file", "f", "", "event pattern JSON file, - for stdin")
	patternTestCmd.Flags().StringVarP(&patternEventType, "event-type", "t", "pull_request", "webhook event of the example event")
	patternTestCmd.Flags().StringVarP(&patternAction, "action", "a", "opened", "action of the example event")
	patternTestCmd.Flags().StringVarP(&patternOwner, "owner", "o", "acme", "repository owner of the example event")
	patternTestCmd.Flags().StringVarP(&patternRepo, "repo", "r", "widgets", "repository name of the example event")
	patternTestCmd.Flags().StringVarP(&patternSender, "sender", "s", "octocat", "sender login of the example event")
	patternTestCmd.Flags().StringToStringVarP(&patternCustomProps, "custom-props", "c", nil, "repository custom properties of the example event, key=value")
	patternTestCmd.Flags().BoolVar(&patternPrintEvent, "print-only", false, "print the example event and exit without calling AWS")

	patternCmd.AddCommand(
		patternGenerateCmd,
		patternTestCmd,
	)

	rootCmd.AddCommand(patternCmd)
}
