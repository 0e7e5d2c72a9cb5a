package provider

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/breeze-rmm/updater/internal/errdefs"
)

const defaultPresignExpiry = time.Hour

// S3Options configures an S3 (or S3-compatible) release bucket laid out as
// <prefix>/<tag>/<asset>.
type S3Options struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
	PresignExpiry   time.Duration
}

type s3Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3 lists releases from object keys and hands out presigned download URLs.
type S3 struct {
	releaseSet
	opts      S3Options
	lister    s3.ListObjectsV2APIClient
	presigner s3Presigner
}

// NewS3 builds an S3 provider using the default AWS credential chain, or
// static credentials when both keys are set.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = opts.PathStyle
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return newS3WithClients(opts, client, s3.NewPresignClient(client)), nil
}

func newS3WithClients(opts S3Options, lister s3.ListObjectsV2APIClient, presigner s3Presigner) *S3 {
	opts.Prefix = strings.Trim(opts.Prefix, "/")
	if opts.PresignExpiry <= 0 {
		opts.PresignExpiry = defaultPresignExpiry
	}
	return &S3{opts: opts, lister: lister, presigner: presigner}
}

func (p *S3) Name() string { return "S3" }

// Fetch pages through every key under the prefix and groups them by tag.
// Keys nested deeper than <tag>/<asset> and directory markers are ignored.
func (p *S3) Fetch(ctx context.Context) error {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(p.opts.Bucket)}
	keyPrefix := ""
	if p.opts.Prefix != "" {
		keyPrefix = p.opts.Prefix + "/"
		input.Prefix = aws.String(keyPrefix)
	}

	var releases []Release
	index := map[string]int{}

	paginator := s3.NewListObjectsV2Paginator(p.lister, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("%w: list s3://%s/%s: %w", errdefs.ErrNetwork, p.opts.Bucket, keyPrefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			tag, name, ok := splitReleaseKey(strings.TrimPrefix(key, keyPrefix))
			if !ok {
				continue
			}

			signed, err := p.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(p.opts.Bucket),
				Key:    aws.String(key),
			}, s3.WithPresignExpires(p.opts.PresignExpiry))
			if err != nil {
				return fmt.Errorf("presign %s: %w", key, err)
			}

			i, seen := index[tag]
			if !seen {
				i = len(releases)
				index[tag] = i
				releases = append(releases, Release{Tag: tag})
			}
			size := aws.ToInt64(obj.Size)
			if size < 0 {
				size = 0
			}
			releases[i].Assets = append(releases[i].Assets, Asset{Name: name, Size: uint64(size), URL: signed.URL})
		}
	}

	log.Debug("fetched releases", "bucket", p.opts.Bucket, "prefix", p.opts.Prefix, "count", len(releases))
	p.set(releases)
	return nil
}

func splitReleaseKey(rel string) (tag, name string, ok bool) {
	tag, name, ok = strings.Cut(rel, "/")
	if !ok || tag == "" || name == "" || strings.Contains(name, "/") {
		return "", "", false
	}
	if path.Clean(tag) != tag || tag == ".." || tag == "." {
		return "", "", false
	}
	return tag, name, true
}
