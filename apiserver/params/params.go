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

package params

// APIErrorResponse holds information about an error, returned by the API
type APIErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// WebhookResponse is returned by the front for accepted and ignored
// events.
type WebhookResponse struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id,omitempty"`
	// Reason is set when the event was dropped by the filter.
	Reason string `json:"reason,omitempty"`
}

// RunResponse is returned by the runner once a dispatch finished.
type RunResponse struct {
	Status string `json:"status"`
}
