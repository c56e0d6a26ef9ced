package deploy

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/nathanhoad/suddenly-compiler/internal/config"
	"github.com/nathanhoad/suddenly-compiler/internal/errors"
)

// ObjectPutter is the slice of the S3 API the deployer needs.
// Satisfied by *s3.Client; tests substitute fakes.
type ObjectPutter interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Options configures a deploy.
type Options struct {
	// Bucket is the destination S3 bucket. Required.
	Bucket string

	// Prefix is prepended to every object key.
	Prefix string

	// Region is the bucket region. Defaults to AWS_REGION, then
	// us-east-1.
	Region string

	// Client overrides the S3 client.
	Client ObjectPutter

	// Logf receives per-file progress lines.
	Logf func(format string, args ...interface{})
}

// Result summarizes a finished deploy.
type Result struct {
	Files int
	Bytes int64
}

// Deployer uploads the bundled public assets to S3.
type Deployer struct {
	cfg    *config.Config
	bucket string
	prefix string
	client ObjectPutter
	logf   func(string, ...interface{})
}

// New creates a deployer. Credentials come from the standard AWS
// environment variables.
func New(cfg *config.Config, opts Options) (*Deployer, error) {
	if opts.Bucket == "" {
		return nil, errors.New(errors.CodeDeployFailed).
			WithDetail("No destination bucket given").
			WithSuggestion("Pass --bucket or set SUDDENLY_DEPLOY_BUCKET")
	}

	client := opts.Client
	if client == nil {
		region := opts.Region
		if region == "" {
			region = os.Getenv("AWS_REGION")
		}
		if region == "" {
			region = "us-east-1"
		}
		client = s3.New(s3.Options{
			Region:      region,
			Credentials: aws.CredentialsProviderFunc(envCredentials),
		})
	}

	logf := opts.Logf
	if logf == nil {
		logf = func(format string, args ...interface{}) {
			fmt.Printf("[%s] "+format+"\n", append([]interface{}{time.Now().Format("15:04:05")}, args...)...)
		}
	}

	prefix := strings.TrimPrefix(opts.Prefix, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &Deployer{
		cfg:    cfg,
		bucket: opts.Bucket,
		prefix: prefix,
		client: client,
		logf:   logf,
	}, nil
}

// Run uploads every file under the public output directory.
func (d *Deployer) Run(ctx context.Context) (*Result, error) {
	root := d.cfg.PublicOutputPath()
	if _, err := os.Stat(root); err != nil {
		return nil, errors.New(errors.CodeDeployFailed).
			WithDetail("No bundled output at " + root).
			WithSuggestion("Run suddenly build first").
			Wrap(err)
	}

	result := &Result{}
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		key := d.prefix + filepath.ToSlash(rel)

		file, err := os.Open(path)
		if err != nil {
			return err
		}

		_, err = d.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:       aws.String(d.bucket),
			Key:          aws.String(key),
			Body:         file,
			ContentType:  aws.String(contentType(path)),
			CacheControl: aws.String(cacheControl(path)),
		})
		file.Close()
		if err != nil {
			return err
		}

		d.logf("Uploaded %s (%d bytes)", key, info.Size())
		result.Files++
		result.Bytes += info.Size()
		return nil
	})
	if err != nil {
		if errors.HasCode(err, errors.CodeDeployFailed) {
			return nil, err
		}
		return nil, errors.New(errors.CodeDeployFailed).
			WithDetail("Upload to " + d.bucket + " failed").
			Wrap(err)
	}

	return result, nil
}

// envCredentials reads the standard AWS environment variables.
func envCredentials(ctx context.Context) (aws.Credentials, error) {
	id := os.Getenv("AWS_ACCESS_KEY_ID")
	secret := os.Getenv("AWS_SECRET_ACCESS_KEY")
	if id == "" || secret == "" {
		return aws.Credentials{}, errors.New(errors.CodeDeployFailed).
			WithDetail("AWS credentials are not set").
			WithSuggestion("Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY")
	}
	return aws.Credentials{
		AccessKeyID:     id,
		SecretAccessKey: secret,
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		Source:          "environment",
	}, nil
}

func contentType(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// cacheControl marks hashed assets immutable and HTML revalidating.
func cacheControl(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".html") {
		return "no-cache"
	}
	return "public, max-age=31536000, immutable"
}
