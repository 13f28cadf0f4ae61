package mainconfig

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/voice-receptionist/internal/config"
)

func TestLoadAWSConfigEndpointOverride(t *testing.T) {
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	cfg := &appconfig.Config{
		AWSRegion:           "eu-west-1",
		AWSAccessKeyID:      "test",
		AWSSecretAccessKey:  "test",
		AWSEndpointOverride: "http://localhost:4566",
	}

	awsCfg, err := LoadAWSConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if awsCfg.Region != "eu-west-1" {
		t.Fatalf("region = %q", awsCfg.Region)
	}
	endpoint, err := awsCfg.EndpointResolverWithOptions.ResolveEndpoint(sqs.ServiceID, "eu-west-1")
	if err != nil || endpoint.URL != "http://localhost:4566" {
		t.Fatalf("sqs endpoint = %+v err = %v", endpoint, err)
	}
	if _, err := awsCfg.EndpointResolverWithOptions.ResolveEndpoint("S3", "eu-west-1"); err == nil {
		t.Fatal("expected services outside the override to fall through")
	}
}

func TestLoadAWSConfigWithoutOverride(t *testing.T) {
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")
	awsCfg, err := LoadAWSConfig(context.Background(), &appconfig.Config{AWSRegion: "eu-west-1"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if awsCfg.EndpointResolverWithOptions != nil {
		t.Fatal("expected no endpoint resolver")
	}
}
