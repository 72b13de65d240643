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

package runner

import (
	"fmt"
	"strings"
	"time"

	"github.com/Finatext/orgu/params"
	"github.com/Finatext/orgu/util/github"
)

// Check-run output builders. The wording is load-bearing: operators grep
// check runs for "exit status:" and the timeout notes.

func queuedOutput(req params.CheckRequest, command []string) (string, string) {
	title := "Runner accepted job"
	summary := withDebugInfo(fmt.Sprintf("Queued command:\n```\n%s\n```", fmtCmd(command)), req)
	return title, summary
}

func inProgressUpdate(req params.CheckRequest, name string, command []string) github.UpdateCheckRunInput {
	return github.UpdateCheckRunInput{
		Name:    name,
		Status:  params.CheckStatusInProgress,
		Title:   "Runner is running job",
		Summary: withDebugInfo(fmt.Sprintf("Running command:\n```\n%s\n```", fmtCmd(command)), req),
	}
}

func checkoutTimedOutUpdate(req params.CheckRequest, timeout time.Duration) github.UpdateCheckRunInput {
	summary := fmt.Sprintf(
		"Runner tried to checkout repository but timed out (checkout timed out after %s): owner=%s, repo=%s, sha=%s",
		timeout, req.Repository.Owner, req.Repository.Name, req.Head.SHA)
	return github.UpdateCheckRunInput{
		Status:     params.CheckStatusCompleted,
		Conclusion: params.CheckConclusionTimedOut,
		Title:      "Checkout repository timed out",
		Summary:    withDebugInfo(summary, req),
	}
}

func checkoutFailedUpdate(req params.CheckRequest, err error) github.UpdateCheckRunInput {
	summary := fmt.Sprintf("Runner failed to checkout repository: owner=%s, repo=%s, sha=%s",
		req.Repository.Owner, req.Repository.Name, req.Head.SHA)
	return github.UpdateCheckRunInput{
		Status:     params.CheckStatusCompleted,
		Conclusion: params.CheckConclusionFailure,
		Title:      "Checkout repository failed",
		Summary:    withDebugInfo(summary, req),
		Text:       fmt.Sprintf("Error:\n\n```\n%+v\n```", err),
	}
}

func jobTimedOutUpdate(req params.CheckRequest, command []string, timeout time.Duration, result JobResult) github.UpdateCheckRunInput {
	summary := fmt.Sprintf("Job execution has timed out on the runner (%s): `%s`", timeout, fmtCmd(command))
	return github.UpdateCheckRunInput{
		Status:     params.CheckStatusCompleted,
		Conclusion: params.CheckConclusionFailure,
		Title:      "Running job timed out",
		Summary:    withDebugInfo(summary, req),
		Text:       outputText(result),
	}
}

func jobSucceededUpdate(req params.CheckRequest, command []string, result JobResult) github.UpdateCheckRunInput {
	summary := fmt.Sprintf("Command succeeded: `%s` (took %s)", fmtCmd(command), result.Duration.Round(time.Millisecond))
	return github.UpdateCheckRunInput{
		Status:     params.CheckStatusCompleted,
		Conclusion: params.CheckConclusionSuccess,
		Title:      "Runner executed job successfully",
		Summary:    withDebugInfo(summary, req),
		Text:       outputText(result),
	}
}

func jobFailedUpdate(req params.CheckRequest, command []string, result JobResult) github.UpdateCheckRunInput {
	summary := fmt.Sprintf("Command failed with %s: `%s` (took %s)",
		exitStatus(result.ExitCode), fmtCmd(command), result.Duration.Round(time.Millisecond))
	return github.UpdateCheckRunInput{
		Status:     params.CheckStatusCompleted,
		Conclusion: params.CheckConclusionFailure,
		Title:      "Runner ran job but it failed",
		Summary:    withDebugInfo(summary, req),
		Text:       outputText(result),
	}
}

func dispatchFailedUpdate(req params.CheckRequest, err error) github.UpdateCheckRunInput {
	return github.UpdateCheckRunInput{
		Status:     params.CheckStatusCompleted,
		Conclusion: params.CheckConclusionFailure,
		Title:      "Runner failed to handle event",
		Summary:    withDebugInfo("Event handling failed, contact operation team.", req),
		Text:       fmt.Sprintf("Error:\n\n```\n%+v\n```", err),
	}
}

func exitStatus(code int) string {
	if code < 0 {
		return fmt.Sprintf("signal (wait status %d)", code)
	}
	return fmt.Sprintf("exit status: %d", code)
}

func fmtCmd(command []string) string {
	return strings.Join(command, " ")
}

func outputText(result JobResult) string {
	var b strings.Builder
	b.WriteString("## output\n```\n")
	b.WriteString(result.Output)
	if !strings.HasSuffix(result.Output, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("```")
	if result.OutputTruncated {
		b.WriteString("\n(older output dropped)")
	}
	return b.String()
}

func withDebugInfo(original string, req params.CheckRequest) string {
	return fmt.Sprintf(
		"%s\n\nDelivery ID (not unique for re-delivery): `%s`\nRequest ID (unique for re-delivery): `%s`",
		original, req.DeliveryID, req.RequestID)
}
