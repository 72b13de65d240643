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

import (
	"fmt"
	"regexp"
	"time"
)

type EventName string

const (
	EventPullRequest EventName = "pull_request"
	EventCheckSuite  EventName = "check_suite"
	EventCheckRun    EventName = "check_run"
)

type CheckStatus string

const (
	CheckStatusQueued     CheckStatus = "queued"
	CheckStatusInProgress CheckStatus = "in_progress"
	CheckStatusCompleted  CheckStatus = "completed"
)

type CheckConclusion string

const (
	CheckConclusionSuccess   CheckConclusion = "success"
	CheckConclusionFailure   CheckConclusion = "failure"
	CheckConclusionNeutral   CheckConclusion = "neutral"
	CheckConclusionCancelled CheckConclusion = "cancelled"
	CheckConclusionTimedOut  CheckConclusion = "timed_out"
)

type RefType string

const (
	RefTypeBranch RefType = "branch"
	RefTypeTag    RefType = "tag"
)

// ZeroSHA is the value GitHub sends in place of a null SHA in some
// webhook payloads (draft PRs, branch creation).
const ZeroSHA = "0000000000000000000000000000000000000000"

var (
	shaRegexp     = regexp.MustCompile(`^[0-9a-f]{40}$`)
	propKeyRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// User identifies a GitHub user or organization.
type User struct {
	Login string `json:"login"`
	ID    int64  `json:"id,omitempty"`
}

// Repository identifies the repository an event originated from.
type Repository struct {
	ID               int64             `json:"id"`
	Owner            string            `json:"owner"`
	Name             string            `json:"name"`
	FullName         string            `json:"full_name"`
	DefaultBranch    string            `json:"default_branch"`
	CustomProperties map[string]string `json:"custom_properties,omitempty"`
}

type Head struct {
	SHA     string  `json:"sha"`
	Ref     string  `json:"ref"`
	RefType RefType `json:"ref_type"`
}

type Base struct {
	SHA string `json:"sha"`
	Ref string `json:"ref"`
}

type PullRequest struct {
	Number  int64  `json:"number"`
	Title   string `json:"title"`
	HTMLURL string `json:"html_url"`
	User    User   `json:"user"`
}

// CheckRequest is the envelope published by the front process and consumed
// by the runner. It is the only message shared between the two.
type CheckRequest struct {
	// RequestID is unique for each received event, including re-deliveries.
	RequestID string `json:"request_id"`
	// DeliveryID keeps the same value across re-deliveries of one event.
	DeliveryID     string       `json:"delivery_id"`
	EventName      string       `json:"event_name"`
	Action         string       `json:"action"`
	InstallationID int64        `json:"installation_id"`
	Sender         User         `json:"sender"`
	Repository     Repository   `json:"repository"`
	Head           Head         `json:"head"`
	Base           *Base        `json:"base,omitempty"`
	PullRequest    *PullRequest `json:"pull_request,omitempty"`
	// ReceivedAt is set by the front on ingress. UTC, millisecond precision.
	ReceivedAt time.Time `json:"received_at"`
}

// Validate checks the envelope invariants. The runner rejects requests
// failing validation before opening a check run.
func (r CheckRequest) Validate() error {
	if !shaRegexp.MatchString(r.Head.SHA) {
		return fmt.Errorf("invalid head sha: %q", r.Head.SHA)
	}
	if r.InstallationID <= 0 {
		return fmt.Errorf("invalid installation id: %d", r.InstallationID)
	}
	if r.Repository.Owner == "" || r.Repository.Name == "" {
		return fmt.Errorf("missing repository owner or name: %q", r.Repository.FullName)
	}
	if full := r.Repository.Owner + "/" + r.Repository.Name; r.Repository.FullName != full {
		return fmt.Errorf("repository full_name mismatch: %q != %q", r.Repository.FullName, full)
	}
	switch EventName(r.EventName) {
	case EventPullRequest, EventCheckSuite, EventCheckRun:
	default:
		return fmt.Errorf("unknown event name: %q", r.EventName)
	}
	return nil
}

// IsValidSHA reports whether s is a full 40-hex object ID.
func IsValidSHA(s string) bool {
	return shaRegexp.MatchString(s)
}

// FilterCustomProperties drops property keys that are not valid env-var
// safe identifiers. Invalid keys are not an error; they simply never reach
// the job environment.
func FilterCustomProperties(props map[string]string) map[string]string {
	filtered := make(map[string]string, len(props))
	for k, v := range props {
		if propKeyRegexp.MatchString(k) {
			filtered[k] = v
		}
	}
	return filtered
}

// InstallationToken is a short-lived credential scoped to one installation.
// It is cached in-process and never persisted.
type InstallationToken struct {
	Token     string
	ExpiresAt time.Time
}
