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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace        = "orgu"
	metricsWebhookSubsystem = "webhook"
	metricsQueueSubsystem   = "queue"
	metricsGithubSubsystem  = "github"
	metricsRunnerSubsystem  = "runner"
)

// RegisterMetrics registers all the collectors with the default registry.
func RegisterMetrics() error {
	collectors := []prometheus.Collector{
		WebhooksReceived,
		WebhooksIgnored,
		EventsRelayed,
		EventsRelayFailed,
		GithubOperationCount,
		GithubOperationFailedCount,
		DispatchCount,
		JobDuration,
	}
	for _, collector := range collectors {
		if err := prometheus.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

var (
	WebhooksReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsWebhookSubsystem,
		Name:      "received",
		Help:      "The total number of webhooks received",
	}, []string{"event", "valid"})

	WebhooksIgnored = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsWebhookSubsystem,
		Name:      "ignored",
		Help:      "The total number of webhooks dropped by the filter",
	}, []string{"event", "reason"})

	EventsRelayed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsQueueSubsystem,
		Name:      "relayed",
		Help:      "The total number of check requests published to the event queue",
	}, []string{"sink"})

	EventsRelayFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsQueueSubsystem,
		Name:      "relay_failed",
		Help:      "The total number of check requests that failed to publish",
	}, []string{"sink"})

	GithubOperationCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsGithubSubsystem,
		Name:      "operations_total",
		Help:      "The total number of GitHub API operations",
	}, []string{"operation"})

	GithubOperationFailedCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsGithubSubsystem,
		Name:      "errors_total",
		Help:      "The total number of failed GitHub API operations",
	}, []string{"operation"})

	DispatchCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsRunnerSubsystem,
		Name:      "dispatches_total",
		Help:      "The total number of dispatched check requests by conclusion",
	}, []string{"conclusion"})

	JobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: metricsRunnerSubsystem,
		Name:      "job_duration_seconds",
		Help:      "Wall-clock duration of job executions",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"conclusion"})
)
