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

package controllers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	apiParams "github.com/Finatext/orgu/apiserver/params"
	"github.com/Finatext/orgu/auth"
	gErrors "github.com/Finatext/orgu/errors"
	"github.com/Finatext/orgu/events"
	"github.com/Finatext/orgu/metrics"
	"github.com/Finatext/orgu/params"
	"github.com/Finatext/orgu/queue"
	"github.com/Finatext/orgu/util"
	"github.com/Finatext/orgu/util/github"
)

// triggerCheckRunName is the front's own check run, closed immediately
// after relay so the commit shows the event was picked up.
const triggerCheckRunName = "orgu-trigger"

type FrontController struct {
	webhookSecret string
	canonicalizer *events.Canonicalizer
	queue         queue.Client
	// ghCli may be nil; the trigger check run is then skipped.
	ghCli github.Client
}

func NewFrontController(webhookSecret string, canonicalizer *events.Canonicalizer, queueCli queue.Client, ghCli github.Client) *FrontController {
	return &FrontController{
		webhookSecret: webhookSecret,
		canonicalizer: canonicalizer,
		queue:         queueCli,
		ghCli:         ghCli,
	}
}

// WebhookHandler is POST /github/events. 202 accepted+relayed, 200
// ignored, 401 bad signature, 400 malformed, 500 relay failure.
func (f *FrontController) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		handleError(ctx, w, gErrors.NewBadRequestError("reading post body: %s", err))
		return
	}

	eventName := r.Header.Get("X-Github-Event")
	if err := auth.VerifySignature(body, r.Header.Get(auth.SignatureHeader), f.webhookSecret); err != nil {
		slog.With(slog.Any("error", err)).WarnContext(ctx, "webhook signature verification failed", "event", eventName)
		metrics.WebhooksReceived.WithLabelValues(eventName, "false").Inc()
		handleError(ctx, w, err)
		return
	}
	metrics.WebhooksReceived.WithLabelValues(eventName, "true").Inc()

	deliveryID := r.Header.Get("X-Github-Delivery")
	if eventName == "" || deliveryID == "" {
		handleError(ctx, w, gErrors.NewBadRequestError("missing X-GitHub-Event or X-GitHub-Delivery header"))
		return
	}

	if eventName == "ping" {
		writeJSON(ctx, w, http.StatusOK, map[string]string{"message": "pong"})
		return
	}

	requestID := uuid.NewString()
	ctx = util.WithSlogContext(ctx,
		slog.String("request_id", requestID),
		slog.String("delivery_id", deliveryID),
		slog.String("event", eventName),
	)

	req, err := f.canonicalizer.Canonicalize(ctx, eventName, requestID, deliveryID, body)
	if err != nil {
		var ignored *gErrors.IgnoredError
		if errors.As(err, &ignored) {
			slog.InfoContext(ctx, "event ignored", "reason", ignored.Reason())
			metrics.WebhooksIgnored.WithLabelValues(eventName, ignored.Reason()).Inc()
			writeJSON(ctx, w, http.StatusOK, apiParams.WebhookResponse{
				Status: "ignored",
				Reason: ignored.Reason(),
			})
			return
		}
		slog.With(slog.Any("error", err)).WarnContext(ctx, "failed to canonicalize event")
		handleError(ctx, w, err)
		return
	}

	if err := f.queue.Send(ctx, req); err != nil {
		slog.With(slog.Any("error", err)).ErrorContext(ctx, "failed to relay check request", "sink", f.queue.Sink())
		handleError(ctx, w, err)
		return
	}
	slog.InfoContext(ctx, "check request relayed", "sink", f.queue.Sink(), "repo", req.Repository.FullName, "sha", req.Head.SHA)

	// Best-effort only: a trigger check-run failure never turns a relayed
	// event into an error response.
	f.reportTrigger(ctx, req)

	writeJSON(ctx, w, http.StatusAccepted, apiParams.WebhookResponse{
		Status:    "queued",
		RequestID: requestID,
	})
}

func (f *FrontController) reportTrigger(ctx context.Context, req params.CheckRequest) {
	if f.ghCli == nil {
		return
	}
	owner, repo := req.Repository.Owner, req.Repository.Name
	checkRunID, err := f.ghCli.CreateCheckRun(ctx, owner, repo, github.CreateCheckRunInput{
		Name:    triggerCheckRunName,
		HeadSHA: req.Head.SHA,
		Status:  params.CheckStatusInProgress,
	})
	if err != nil {
		slog.With(slog.Any("error", err)).WarnContext(ctx, "failed to create trigger check run")
		return
	}
	summary := "Delivery ID (not unique for re-delivery): " + req.DeliveryID +
		"\nRequest ID (unique for re-delivery): " + req.RequestID
	err = f.ghCli.UpdateCheckRun(ctx, owner, repo, checkRunID, github.UpdateCheckRunInput{
		Name:       triggerCheckRunName,
		Status:     params.CheckStatusCompleted,
		Conclusion: params.CheckConclusionSuccess,
		Title:      "orgu-front queued",
		Summary:    summary,
	})
	if err != nil {
		slog.With(slog.Any("error", err)).WarnContext(ctx, "failed to close trigger check run")
	}
}
