package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/cyclewatch/cyclewatch/internal/config"
	"github.com/cyclewatch/cyclewatch/internal/cucumber"
	"github.com/cyclewatch/cyclewatch/internal/model"
	"github.com/cyclewatch/cyclewatch/internal/postman"
)

// S3Fetcher reads builds from an S3-compatible bucket where CI jobs archive
// their artifacts, using the same layout as the filesystem fetcher with
// object key prefixes instead of directories. Job links are object key
// prefixes.
type S3Fetcher struct {
	s3     *s3.Client
	bucket string
	prefix string
}

// NewS3 creates a fetcher over the bucket described by cfg.
func NewS3(ctx context.Context, cfg config.S3Fetcher) (*S3Fetcher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Fetcher{
		s3:     s3.NewFromConfig(awsCfg, opts...),
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (f *S3Fetcher) ListRecentBuilds(ctx context.Context, branch, cycle string) ([]Build, error) {
	prefixes, err := f.listPrefixes(ctx, f.key(branch, cycle)+"/")
	if err != nil {
		return nil, fmt.Errorf("list builds of %s/%s: %w", branch, cycle, err)
	}
	// Timestamp-named prefixes: newest first.
	sort.Sort(sort.Reverse(sort.StringSlice(prefixes)))

	builds := make([]Build, 0, len(prefixes))
	for _, p := range prefixes {
		builds = append(builds, Build{Link: strings.TrimSuffix(p, "/")})
	}
	return builds, nil
}

func (f *S3Fetcher) CompleteBuildInformation(ctx context.Context, build *Build) error {
	if build.Link == "" {
		return fmt.Errorf("s3 build has no link")
	}
	var information Build
	if err := f.getJSON(ctx, build.Link+"/"+buildInformationFile, &information); err != nil {
		return err
	}
	link := build.Link
	*build = information
	build.Link = link
	return nil
}

func (f *S3Fetcher) CycleConfiguration(ctx context.Context, build Build) (*CycleConfiguration, error) {
	var configuration CycleConfiguration
	if err := f.getJSON(ctx, build.Link+"/"+cycleDefinitionFile, &configuration); err != nil {
		return nil, err
	}
	return &configuration, nil
}

func (f *S3Fetcher) BuildTree(ctx context.Context, build Build) (*Tree, error) {
	if build.Link == "" {
		return nil, fmt.Errorf("s3 build has no link")
	}
	countryPrefixes, err := f.listPrefixes(ctx, build.Link+"/")
	if err != nil {
		return nil, err
	}

	tree := &Tree{}
	for _, countryPrefix := range countryPrefixes {
		country := path.Base(strings.TrimSuffix(countryPrefix, "/"))
		deployment, err := f.childBuild(ctx, strings.TrimSuffix(countryPrefix, "/"))
		if err != nil {
			return nil, err
		}
		tree.DeployedCountries = append(tree.DeployedCountries, DeployedCountry{
			Country: country,
			Build:   deployment,
		})

		typePrefixes, err := f.listPrefixes(ctx, countryPrefix)
		if err != nil {
			return nil, err
		}
		for _, typePrefix := range typePrefixes {
			runBuild, err := f.childBuild(ctx, strings.TrimSuffix(typePrefix, "/"))
			if err != nil {
				return nil, err
			}
			tree.TestRuns = append(tree.TestRuns, TestRun{
				Country: country,
				Type:    path.Base(strings.TrimSuffix(typePrefix, "/")),
				Build:   runBuild,
			})
		}
	}
	return tree, nil
}

func (f *S3Fetcher) childBuild(ctx context.Context, keyPrefix string) (Build, error) {
	var build Build
	err := f.getJSON(ctx, keyPrefix+"/"+buildInformationFile, &build)
	if err != nil && !isNotFound(err) {
		return Build{}, err
	}
	build.Link = keyPrefix
	return build, nil
}

func (f *S3Fetcher) CucumberReport(ctx context.Context, run *model.Run) ([]cucumber.Feature, error) {
	data, err := f.getObject(ctx, f.runKey(run)+"/"+cucumberReportFile)
	if err != nil {
		return nil, err
	}
	return cucumber.Parse(data)
}

func (f *S3Fetcher) CucumberStepDefinitions(ctx context.Context, run *model.Run) ([]string, error) {
	var definitions []string
	if err := f.getJSON(ctx, f.runKey(run)+"/"+stepDefinitionsFile, &definitions); err != nil {
		return nil, err
	}
	return definitions, nil
}

func (f *S3Fetcher) PostmanReportPaths(ctx context.Context, run *model.Run) ([]string, error) {
	prefix := f.runKey(run) + "/" + newmanDir + "/"
	paginator := s3.NewListObjectsV2Paginator(f.s3, &s3.ListObjectsV2Input{
		Bucket: &f.bucket,
		Prefix: &prefix,
	})

	var paths []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list newman reports: %w", err)
		}
		for _, obj := range page.Contents {
			paths = append(paths, newmanDir+"/"+path.Base(*obj.Key))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (f *S3Fetcher) PostmanReport(ctx context.Context, run *model.Run, reportPath string) (*postman.Report, error) {
	data, err := f.getObject(ctx, f.runKey(run)+"/"+reportPath)
	if err != nil {
		return nil, err
	}
	return postman.Parse(data)
}

func (f *S3Fetcher) OnIndexingFinished(ctx context.Context, execution *model.Execution) error {
	// Bucket lifecycle rules own artifact retention.
	return nil
}

func (f *S3Fetcher) runKey(run *model.Run) string {
	if run.JobLink != "" {
		return run.JobLink
	}
	return run.JobURL
}

func (f *S3Fetcher) key(parts ...string) string {
	if f.prefix != "" {
		parts = append([]string{f.prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

func (f *S3Fetcher) listPrefixes(ctx context.Context, prefix string) ([]string, error) {
	delimiter := "/"
	paginator := s3.NewListObjectsV2Paginator(f.s3, &s3.ListObjectsV2Input{
		Bucket:    &f.bucket,
		Prefix:    &prefix,
		Delimiter: &delimiter,
	})

	var prefixes []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, p := range page.CommonPrefixes {
			prefixes = append(prefixes, *p.Prefix)
		}
	}
	return prefixes, nil
}

func (f *S3Fetcher) getJSON(ctx context.Context, key string, v any) error {
	data, err := f.getObject(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (f *S3Fetcher) getObject(ctx context.Context, key string) ([]byte, error) {
	out, err := f.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &f.bucket,
		Key:    &key,
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: s3 key %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()
	return io.ReadAll(out.Body)
}
