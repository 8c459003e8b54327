// Copyright DeskHub and each contributor to the virtual office project.
// SPDX-License-Identifier: MIT

// Package awsutil centralizes AWS SDK configuration loading.
package awsutil

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// LoadConfig loads AWS configuration from the environment / instance
// profile. If assumeRoleARN is non-empty the returned config assumes that
// IAM role via STS, which the handlers use for cross-account table access.
func LoadConfig(ctx context.Context, region, assumeRoleARN string) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}

	if assumeRoleARN != "" {
		stsClient := sts.NewFromConfig(awsCfg)
		awsCfg.Credentials = stscreds.NewAssumeRoleProvider(stsClient, assumeRoleARN)
	}

	return awsCfg, nil
}
