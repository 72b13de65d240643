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

package pattern

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Finatext/orgu/queue"
)

func TestGeneratePullRequest(t *testing.T) {
	p := Generate(EventTypePullRequest, nil)

	assert.Equal(t, []string{queue.EventSource}, p.Source)
	assert.Equal(t, []string{queue.EventDetailType}, p.DetailType)
	assert.Contains(t, p.Detail.EventName, "pull_request")
	assert.Contains(t, p.Detail.EventName, "check_suite")
	assert.Contains(t, p.Detail.Action, "opened")
	assert.Contains(t, p.Detail.Action, "rerequested")
	assert.Nil(t, p.Detail.Repository)
}

func TestGenerateCheckSuite(t *testing.T) {
	p := Generate(EventTypeCheckSuite, nil)

	assert.Equal(t, []string{"check_suite"}, p.Detail.EventName)
	assert.Equal(t, []string{"requested", "rerequested"}, p.Detail.Action)
}

func TestGenerateCustomProps(t *testing.T) {
	p := Generate(EventTypePullRequest, map[string]string{"team": "platform"})

	require.NotNil(t, p.Detail.Repository)
	assert.Equal(t, map[string][]string{"team": {"platform"}}, p.Detail.Repository.CustomProperties)

	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"detail-type"`)
	assert.Contains(t, string(out), `"custom_properties"`)
}

func TestExampleEvent(t *testing.T) {
	out, err := ExampleEvent(ExampleInput{
		EventType:    EventTypePullRequest,
		Action:       "synchronize",
		Owner:        "acme",
		Repo:         "widgets",
		Sender:       "octocat",
		ReceivedTime: time.Date(2024, 1, 1, 12, 29, 26, 0, time.UTC),
	})
	require.NoError(t, err)

	var event map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &event))
	assert.Equal(t, queue.EventSource, event["source"])
	assert.Equal(t, queue.EventDetailType, event["detail-type"])
	assert.Equal(t, "2024-01-01T12:29:26Z", event["time"])

	// The detail decodes back through the runner's bus consumer.
	req, err := queue.DecodeBusEvent(out)
	require.NoError(t, err)
	assert.Equal(t, "acme/widgets", req.Repository.FullName)
	assert.Equal(t, "synchronize", req.Action)
	require.NotNil(t, req.PullRequest)
	assert.NoError(t, req.Validate())
}

func TestExampleEventCheckSuite(t *testing.T) {
	out, err := ExampleEvent(ExampleInput{
		EventType:    EventTypeCheckSuite,
		Action:       "rerequested",
		Owner:        "acme",
		Repo:         "widgets",
		Sender:       "octocat",
		ReceivedTime: time.Now(),
	})
	require.NoError(t, err)

	req, err := queue.DecodeBusEvent(out)
	require.NoError(t, err)
	assert.Nil(t, req.PullRequest)
	assert.Nil(t, req.Base)
}

type fakeTestAPI struct {
	input  *eventbridge.TestEventPatternInput
	result bool
}

func (f *fakeTestAPI) TestEventPattern(_ context.Context, input *eventbridge.TestEventPatternInput, _ ...func(*eventbridge.Options)) (*eventbridge.TestEventPatternOutput, error) {
	f.input = input
	return &eventbridge.TestEventPatternOutput{Result: f.result}, nil
}

func TestTest(t *testing.T) {
	api := &fakeTestAPI{result: true}

	ok, err := Test(context.Background(), api, []byte(`{"source":"orgu-front"}`), []byte(`{"source":["orgu-front"]}`))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"source":"orgu-front"}`, aws.ToString(api.input.Event))
	assert.Equal(t, `{"source":["orgu-front"]}`, aws.ToString(api.input.EventPattern))
}
