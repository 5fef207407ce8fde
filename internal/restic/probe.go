package restic

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrDestinationUnavailable marks a remote repository endpoint that cannot
// be reached.
var ErrDestinationUnavailable = errors.New("destination unavailable")

// Repo is a parsed s3 repository locator.
type Repo struct {
	Locator  string
	Endpoint string // scheme://host[:port]
	Bucket   string
	Host     string // hostname only, for bypass route resolution
}

// ParseRepo parses locators of the shapes restic accepts for s3 backends:
// s3:host/bucket, s3:https://host/bucket and s3:http://host/bucket.
func ParseRepo(locator string) (Repo, error) {
	rest, ok := strings.CutPrefix(locator, "s3:")
	if !ok {
		return Repo{}, fmt.Errorf("not an s3 locator: %q", locator)
	}
	if !strings.Contains(rest, "://") {
		rest = "https://" + rest
	}
	u, err := url.Parse(rest)
	if err != nil {
		return Repo{}, fmt.Errorf("parse locator %q: %w", locator, err)
	}
	bucket := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)[0]
	if u.Hostname() == "" || bucket == "" {
		return Repo{}, fmt.Errorf("locator %q has no endpoint or bucket", locator)
	}
	return Repo{
		Locator:  locator,
		Endpoint: u.Scheme + "://" + u.Host,
		Bucket:   bucket,
		Host:     u.Hostname(),
	}, nil
}

// RepoFromEnv parses RESTIC_REPOSITORY. The second return is false when
// the locator is not s3-backed.
func RepoFromEnv() (Repo, bool) {
	locator := os.Getenv("RESTIC_REPOSITORY")
	if !strings.HasPrefix(locator, "s3:") {
		return Repo{}, false
	}
	repo, err := ParseRepo(locator)
	if err != nil {
		return Repo{}, false
	}
	return repo, true
}

// ProbeRemote checks that the repository's S3 endpoint answers before the
// engine is started. Non-s3 locators skip the probe.
func (e *Engine) ProbeRemote(ctx context.Context) error {
	repo, ok := RepoFromEnv()
	if !ok {
		return nil
	}

	client := s3.New(s3.Options{
		BaseEndpoint: aws.String(repo.Endpoint),
		Region:       "us-east-1",
		Credentials: credentials.NewStaticCredentialsProvider(
			os.Getenv("AWS_ACCESS_KEY_ID"),
			os.Getenv("AWS_SECRET_ACCESS_KEY"),
			"",
		),
		UsePathStyle: true,
	})

	_, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(repo.Bucket)})
	if err != nil {
		return fmt.Errorf("%w: %s/%s: %v", ErrDestinationUnavailable, repo.Endpoint, repo.Bucket, err)
	}
	e.logger.Debug().Str("endpoint", repo.Endpoint).Str("bucket", repo.Bucket).Msg("remote repository reachable")
	return nil
}
