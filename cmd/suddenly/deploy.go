package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nathanhoad/suddenly-compiler/internal/config"
	"github.com/nathanhoad/suddenly-compiler/internal/deploy"
)

func deployCmd() *cobra.Command {
	var (
		bucket string
		prefix string
		region string
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Upload bundled assets to S3",
		Long: `Upload everything under the bundled public output to an S3 bucket.

Credentials come from the standard AWS environment variables
(AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, AWS_SESSION_TOKEN).

Examples:
  suddenly deploy --bucket=my-assets
  suddenly deploy --bucket=my-assets --prefix=app --region=eu-west-1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(bucket, prefix, region)
		},
	}

	cmd.Flags().StringVarP(&bucket, "bucket", "b", os.Getenv("SUDDENLY_DEPLOY_BUCKET"), "Destination S3 bucket")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Key prefix for uploaded objects")
	cmd.Flags().StringVar(&region, "region", "", "Bucket region (default from AWS_REGION)")

	return cmd
}

func runDeploy(bucket, prefix, region string) error {
	cfg, err := config.LoadFromWorkingDir()
	if err != nil {
		return err
	}

	deployer, err := deploy.New(cfg, deploy.Options{
		Bucket: bucket,
		Prefix: prefix,
		Region: region,
		Logf: func(format string, args ...interface{}) {
			info(format, args...)
		},
	})
	if err != nil {
		return err
	}

	fmt.Println("  Deploying...")
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	result, err := deployer.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Println()
	success("Deployed %d files (%d bytes) to %s", result.Files, result.Bytes, bucket)
	return nil
}
