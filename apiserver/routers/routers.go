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

package routers

import (
	"io"
	"net/http"

	gorillaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Finatext/orgu/apiserver/controllers"
)

// NewFrontRouter serves the webhook ingress process.
func NewFrontRouter(han *controllers.FrontController, logWriter io.Writer) *mux.Router {
	router := mux.NewRouter()
	log := gorillaHandlers.CombinedLoggingHandler

	// Handles github webhooks
	router.Handle("/github/events", log(logWriter, http.HandlerFunc(han.WebhookHandler))).Methods("POST")

	router.Handle("/health", http.HandlerFunc(controllers.HealthHandler)).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	return router
}

// NewRunnerRouter serves the job execution process.
func NewRunnerRouter(han *controllers.RunnerController, logWriter io.Writer) *mux.Router {
	router := mux.NewRouter()
	log := gorillaHandlers.CombinedLoggingHandler

	router.Handle("/run", log(logWriter, http.HandlerFunc(han.RunHandler))).Methods("POST")

	router.Handle("/health", http.HandlerFunc(controllers.HealthHandler)).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	return router
}
