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

// Package queue publishes canonical check requests from the front to
// whatever carries them to the runner: an EventBridge bus, an HTTP relay,
// or the runner itself.
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/pkg/errors"

	"github.com/Finatext/orgu/config"
	gErrors "github.com/Finatext/orgu/errors"
	"github.com/Finatext/orgu/metrics"
	"github.com/Finatext/orgu/params"
)

const (
	// EventSource and EventDetailType identify orgu events on a shared
	// bus. Runner-side rules match on both.
	EventSource     = "orgu-front"
	EventDetailType = "orgu.CheckRequest"
)

// Client publishes one check request. Send either fully succeeds or
// returns a RelayError; there is no partial publish.
type Client interface {
	Send(ctx context.Context, req params.CheckRequest) error
	// Sink names the configured backend for logs and metrics.
	Sink() string
}

// NewFromConfig selects the sink: a bus name wins over a relay endpoint,
// which wins over the direct runner endpoint.
func NewFromConfig(ctx context.Context, cfg config.Front) (Client, error) {
	switch {
	case cfg.EventBusName != "":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "loading aws config")
		}
		return NewBusClient(eventbridge.NewFromConfig(awsCfg), cfg.EventBusName), nil
	case cfg.RelayEndpoint != "":
		return NewRelayClient(cfg.RelayEndpoint), nil
	default:
		return NewRelayClient(cfg.RunnerEndpoint), nil
	}
}

// EventBridgeAPI is the slice of the EventBridge client the bus sink
// uses.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, input *eventbridge.PutEventsInput, opts ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

type BusClient struct {
	api     EventBridgeAPI
	busName string
}

func NewBusClient(api EventBridgeAPI, busName string) *BusClient {
	return &BusClient{api: api, busName: busName}
}

func (c *BusClient) Sink() string {
	return "eventbridge"
}

func (c *BusClient) Send(ctx context.Context, req params.CheckRequest) (err error) {
	defer c.count(&err)

	detail, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "marshaling check request")
	}
	out, err := c.api.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{
			{
				EventBusName: aws.String(c.busName),
				Source:       aws.String(EventSource),
				DetailType:   aws.String(EventDetailType),
				Detail:       aws.String(string(detail)),
			},
		},
	})
	if err != nil {
		return gErrors.NewRelayError("putting event: %s", err)
	}
	if out.FailedEntryCount > 0 {
		entry := out.Entries[0]
		return gErrors.NewRelayError("event rejected: %s: %s",
			aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
	}
	return nil
}

func (c *BusClient) count(err *error) {
	if *err != nil {
		metrics.EventsRelayFailed.WithLabelValues(c.Sink()).Inc()
		return
	}
	metrics.EventsRelayed.WithLabelValues(c.Sink()).Inc()
}

// RelayClient POSTs the JSON envelope to an HTTP endpoint. It serves
// both the standalone relay and the direct-to-runner setup.
type RelayClient struct {
	endpoint string
	client   *http.Client
}

func NewRelayClient(endpoint string) *RelayClient {
	return &RelayClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: config.DefaultAPICallTimeout},
	}
}

func (c *RelayClient) Sink() string {
	return "http"
}

func (c *RelayClient) Send(ctx context.Context, req params.CheckRequest) (err error) {
	defer c.countRelay(&err)

	body, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "marshaling check request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "building relay request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return gErrors.NewRelayError("posting check request: %s", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Keep a slice of the body for the log line; relays answer small.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return gErrors.NewRelayError("relay answered %d: %s", resp.StatusCode, string(snippet))
	}
	return nil
}

func (c *RelayClient) countRelay(err *error) {
	if *err != nil {
		metrics.EventsRelayFailed.WithLabelValues(c.Sink()).Inc()
		return
	}
	metrics.EventsRelayed.WithLabelValues(c.Sink()).Inc()
}

var _ Client = (*BusClient)(nil)
var _ Client = (*RelayClient)(nil)

// Detail is the shape the runner's bus consumer decodes from an
// EventBridge envelope.
type Detail struct {
	Source     string              `json:"source"`
	DetailType string              `json:"detail-type"`
	Detail     params.CheckRequest `json:"detail"`
}

// DecodeBusEvent validates and unwraps a bus envelope on the consumer
// side.
func DecodeBusEvent(raw []byte) (params.CheckRequest, error) {
	var detail Detail
	if err := json.Unmarshal(raw, &detail); err != nil {
		return params.CheckRequest{}, gErrors.NewBadRequestError("decoding bus event: %s", err)
	}
	if detail.Source != EventSource || detail.DetailType != EventDetailType {
		return params.CheckRequest{}, gErrors.NewBadRequestError(
			"unexpected event source %q or detail-type %q", detail.Source, detail.DetailType)
	}
	return detail.Detail, nil
}
