package app

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"inquisitor/internal/config"
)

const awsLoadTimeout = 10 * time.Second

// loadAWS resolves credentials and region from the default chain, narrowed by the
// aws config section.
func loadAWS(ctx context.Context, c config.AWSConfig) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if r := strings.TrimSpace(c.Region); r != "" {
		opts = append(opts, awsconfig.WithRegion(r))
	}
	if p := strings.TrimSpace(c.Profile); p != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(p))
	}
	ctx, cancel := context.WithTimeout(ctx, awsLoadTimeout)
	defer cancel()
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

func newEC2Client(cfg aws.Config, endpoint string) *ec2.Client {
	return ec2.NewFromConfig(cfg, func(o *ec2.Options) {
		if ep := strings.TrimSpace(endpoint); ep != "" {
			o.BaseEndpoint = aws.String(ep)
		}
	})
}

func newSQSClient(cfg aws.Config, endpoint string) *sqs.Client {
	return sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if ep := strings.TrimSpace(endpoint); ep != "" {
			o.BaseEndpoint = aws.String(ep)
		}
	})
}
