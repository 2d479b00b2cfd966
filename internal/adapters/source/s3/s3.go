// Package s3 reads render inputs from AWS S3 or S3-compatible stores.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	apperrors "mediarender/internal/pkg/errors"
	"mediarender/internal/ports"
)

// DefaultRegion is used for AWS proper when nothing else resolves one.
const DefaultRegion = "us-east-1"

// Config selects the account and endpoint.
type Config struct {
	Region          string
	Endpoint        string
	Profile         string
	ForcePathStyle  bool
	AccessKeyID     string
	SecretAccessKey string
}

// ObjectGetter is the subset of *s3.Client used here.
type ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Provider implements ports.SourceProvider for s3://bucket/key URIs.
type Provider struct {
	client ObjectGetter
}

var _ ports.SourceProvider = (*Provider)(nil)

// New builds a provider using the SDK default credential chain unless
// static keys are configured.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if awsCfg.Region == "" && cfg.Endpoint == "" {
		awsCfg.Region = DefaultRegion
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client ObjectGetter) *Provider {
	return &Provider{client: client}
}

func (p *Provider) Provider() string  { return "s3" }
func (p *Provider) Schemes() []string { return []string{"s3"} }

// SplitURI returns bucket and key of an s3:// URI.
func SplitURI(u *url.URL) (bucket, key string, err error) {
	if u == nil || u.Scheme != "s3" {
		return "", "", fmt.Errorf("s3: unsupported uri %v", u)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3: uri must be s3://<bucket>/<key>, got %s", u)
	}
	return bucket, key, nil
}

func (p *Provider) Open(ctx context.Context, u *url.URL) (io.ReadCloser, ports.ObjectInfo, error) {
	bucket, key, err := SplitURI(u)
	if err != nil {
		return nil, ports.ObjectInfo{}, err
	}

	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, ports.ObjectInfo{}, wrapError(bucket, key, err)
	}

	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return out.Body, ports.ObjectInfo{
		Name:        path.Base(key),
		ContentType: aws.ToString(out.ContentType),
		Size:        size,
	}, nil
}

// wrapError maps S3 failures onto service codes.
func wrapError(bucket, key string, err error) error {
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket
	switch {
	case errors.As(err, &noSuchKey), errors.As(err, &noSuchBucket):
		return apperrors.NotFound("s3 object", bucket+"/"+key)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return apperrors.NotFound("s3 object", bucket+"/"+key)
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return apperrors.WrapWithCode(err, apperrors.CodeUnavailable, "s3.open", "s3 access denied")
		}
	}
	return apperrors.WrapWithCode(err, apperrors.CodeUnavailable, "s3.open", "s3 download failed")
}
