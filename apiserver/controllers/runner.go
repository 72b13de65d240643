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
	"encoding/json"
	"log/slog"
	"net/http"

	apiParams "github.com/Finatext/orgu/apiserver/params"
	gErrors "github.com/Finatext/orgu/errors"
	"github.com/Finatext/orgu/params"
	"github.com/Finatext/orgu/util"
)

// CheckRequestHandler runs one dispatch to completion. Implemented by
// the runner's Dispatcher.
type CheckRequestHandler interface {
	HandleCheckRequest(ctx context.Context, req params.CheckRequest) error
}

type RunnerController struct {
	dispatcher CheckRequestHandler
}

func NewRunnerController(dispatcher CheckRequestHandler) *RunnerController {
	return &RunnerController{dispatcher: dispatcher}
}

// RunHandler is POST /run. It answers 200 once the terminal check-run
// update has been attempted, whatever the job outcome was; errors before
// a check run exists map to 4xx/5xx.
func (c *RunnerController) RunHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	defer r.Body.Close()

	var req params.CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		handleError(ctx, w, gErrors.NewBadRequestError("decoding check request: %s", err))
		return
	}
	ctx = util.WithSlogContext(ctx,
		slog.String("request_id", req.RequestID),
		slog.String("delivery_id", req.DeliveryID),
	)

	if err := c.dispatcher.HandleCheckRequest(ctx, req); err != nil {
		slog.With(slog.Any("error", err)).ErrorContext(ctx, "dispatch failed before check run creation")
		handleError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, apiParams.RunResponse{Status: "ok"})
}
