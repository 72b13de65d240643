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

// Package pattern helps operators develop EventBridge event patterns for
// their runner subscriptions.
package pattern

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/pkg/errors"

	"github.com/Finatext/orgu/params"
	"github.com/Finatext/orgu/queue"
)

type EventType string

const (
	EventTypePullRequest EventType = "pull_request"
	EventTypeCheckSuite  EventType = "check_suite"
)

// Pattern is an EventBridge event pattern. The envelope keys are
// kebab-case because EventBridge defines them; the detail keys are
// snake_case because the check request does.
type Pattern struct {
	Source     []string `json:"source"`
	DetailType []string `json:"detail-type"`
	Detail     Detail   `json:"detail"`
}

type Detail struct {
	EventName  []string          `json:"event_name"`
	Action     []string          `json:"action"`
	Repository *DetailRepository `json:"repository,omitempty"`
}

type DetailRepository struct {
	CustomProperties map[string][]string `json:"custom_properties"`
}

// Generate builds a pattern subscribing to the given webhook event. The
// pull_request variant also subscribes to check_suite reruns so "Re-run
// all checks" reaches the runner.
func Generate(eventType EventType, customProps map[string]string) Pattern {
	pattern := Pattern{
		Source:     []string{queue.EventSource},
		DetailType: []string{queue.EventDetailType},
	}
	switch eventType {
	case EventTypeCheckSuite:
		pattern.Detail = Detail{
			EventName: []string{"check_suite"},
			Action:    []string{"requested", "rerequested"},
		}
	default:
		pattern.Detail = Detail{
			EventName: []string{"pull_request", "check_suite"},
			Action: []string{
				"opened",
				"synchronize",
				"reopened",
				"ready_for_review",
				"rerequested",
			},
		}
	}
	if len(customProps) > 0 {
		props := make(map[string][]string, len(customProps))
		for k, v := range customProps {
			props[k] = []string{v}
		}
		pattern.Detail.Repository = &DetailRepository{CustomProperties: props}
	}
	return pattern
}

// ExampleInput customizes the example event used to exercise a pattern.
type ExampleInput struct {
	EventType    EventType
	Action       string
	Owner        string
	Repo         string
	Sender       string
	CustomProps  map[string]string
	ReceivedTime time.Time
}

// busEvent mirrors the EventBridge envelope shape the runner consumes.
type busEvent struct {
	Version    string              `json:"version"`
	ID         string              `json:"id"`
	DetailType string              `json:"detail-type"`
	Source     string              `json:"source"`
	Account    string              `json:"account"`
	Time       string              `json:"time"`
	Region     string              `json:"region"`
	Resources  []string            `json:"resources"`
	Detail     params.CheckRequest `json:"detail"`
}

// ExampleEvent renders a full EventBridge event JSON carrying an example
// check request built from input.
func ExampleEvent(input ExampleInput) ([]byte, error) {
	req := exampleCheckRequest(input)
	event := busEvent{
		Version:    "0",
		ID:         "dc3640c3-4bd0-4a6a-8923-b6f82c859797",
		DetailType: queue.EventDetailType,
		Source:     queue.EventSource,
		Account:    "012345678901",
		Time:       input.ReceivedTime.UTC().Format(time.RFC3339),
		Region:     "ap-northeast-1",
		Resources:  []string{},
		Detail:     req,
	}
	out, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "marshaling example event")
	}
	return out, nil
}

func exampleCheckRequest(input ExampleInput) params.CheckRequest {
	req := params.CheckRequest{
		RequestID:      "45771944-d356-4540-a0b7-b6dff7637f8d",
		DeliveryID:     "dc3640c3-4bd0-4a6a-8923-b6f82c859797",
		EventName:      string(input.EventType),
		Action:         input.Action,
		InstallationID: 123456,
		Sender:         params.User{Login: input.Sender},
		Repository: params.Repository{
			ID:               500,
			Owner:            input.Owner,
			Name:             input.Repo,
			FullName:         input.Owner + "/" + input.Repo,
			DefaultBranch:    "main",
			CustomProperties: input.CustomProps,
		},
		Head: params.Head{
			SHA:     "3e4acdeffab33e45b36fbc0c41c3cb53b18f05c3",
			Ref:     "feature/example",
			RefType: params.RefTypeBranch,
		},
		ReceivedAt: input.ReceivedTime.UTC().Truncate(time.Millisecond),
	}
	if input.EventType == EventTypePullRequest {
		req.Base = &params.Base{
			SHA: "5c2a1b2ff996372cbec2ec69f60732b5c4a9b72c",
			Ref: "main",
		}
		req.PullRequest = &params.PullRequest{
			Number:  5,
			Title:   "Example pull request",
			HTMLURL: "https://github.com/" + input.Owner + "/" + input.Repo + "/pull/5",
			User:    params.User{Login: input.Sender},
		}
	}
	return req
}

// TestAPI is the slice of the EventBridge client the tester uses.
type TestAPI interface {
	TestEventPattern(ctx context.Context, input *eventbridge.TestEventPatternInput, opts ...func(*eventbridge.Options)) (*eventbridge.TestEventPatternOutput, error)
}

// Test evaluates pattern against event via the TestEventPattern API.
func Test(ctx context.Context, api TestAPI, event, pattern []byte) (bool, error) {
	out, err := api.TestEventPattern(ctx, &eventbridge.TestEventPatternInput{
		Event:        aws.String(string(event)),
		EventPattern: aws.String(string(pattern)),
	})
	if err != nil {
		return false, errors.Wrap(err, "calling TestEventPattern")
	}
	return out.Result, nil
}
