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

// Package ssmenv resolves env vars of the form ssm://<parameter-name>
// from SSM Parameter Store before configuration is loaded. Secrets then
// never live in task definitions in the clear.
package ssmenv

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/pkg/errors"
)

const prefix = "ssm://"

// SSMAPI is the slice of the SSM client the resolver uses.
type SSMAPI interface {
	GetParameters(ctx context.Context, input *ssm.GetParametersInput, opts ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// ResolveEnv replaces every ssm:// env var in the current process
// environment. Call it from main before reading configuration.
func ResolveEnv(ctx context.Context) error {
	refs := collectRefs(os.Environ())
	if len(refs) == 0 {
		return nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return errors.Wrap(err, "loading aws config")
	}
	return resolve(ctx, ssm.NewFromConfig(awsCfg), refs)
}

func collectRefs(environ []string) map[string]string {
	refs := make(map[string]string)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if strings.HasPrefix(value, prefix) {
			refs[key] = strings.TrimPrefix(value, prefix)
		}
	}
	return refs
}

func resolve(ctx context.Context, api SSMAPI, refs map[string]string) error {
	names := make([]string, 0, len(refs))
	for _, name := range refs {
		names = append(names, name)
	}
	slog.DebugContext(ctx, "fetching SSM parameters", "names", strings.Join(names, ", "))

	out, err := api.GetParameters(ctx, &ssm.GetParametersInput{
		Names:          names,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return errors.Wrap(err, "fetching ssm parameters")
	}
	if len(out.InvalidParameters) > 0 {
		return errors.Errorf("invalid ssm parameters: %s", strings.Join(out.InvalidParameters, ", "))
	}

	values := make(map[string]string, len(out.Parameters))
	for _, p := range out.Parameters {
		if p.Name != nil && p.Value != nil {
			values[*p.Name] = *p.Value
		}
	}
	for key, name := range refs {
		value, ok := values[name]
		if !ok {
			return errors.Errorf("no value fetched for %s", name)
		}
		if err := os.Setenv(key, value); err != nil {
			return errors.Wrapf(err, "setting %s", key)
		}
	}
	return nil
}
