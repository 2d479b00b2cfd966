package sources

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"mediarender/internal/adapters/source/gdrive"
	"mediarender/internal/adapters/source/httpsrc"
	"mediarender/internal/adapters/source/localfs"
	"mediarender/internal/adapters/source/s3"
	"mediarender/internal/config"
	"mediarender/internal/pkg/logger"
)

// Build registers every source the configuration enables. http(s) and
// file:// (under the media root) are always available.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Registry, error) {
	log = logger.OrDiscard(log).WithComponent("sources")
	reg := NewRegistry(httpsrc.New(nil))

	if cfg.Media.Root != "" {
		reg.Register(localfs.New(cfg.Media.Root))
	}

	if cfg.GDrive.Enabled() {
		p, err := newGDriveProvider(ctx, cfg.GDrive)
		if err != nil {
			return nil, fmt.Errorf("gdrive source: %w", err)
		}
		reg.Register(p)
	}

	if cfg.S3.Enabled {
		p, err := s3.New(ctx, s3.Config{
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			Profile:         cfg.S3.Profile,
			ForcePathStyle:  cfg.S3.ForcePathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 source: %w", err)
		}
		reg.Register(p)
	}

	log.Info("input sources ready", "schemes", reg.Schemes())
	return reg, nil
}

func newGDriveProvider(ctx context.Context, gc config.GDriveConfig) (*gdrive.Client, error) {
	conf := &oauth2.Config{
		ClientID:     gc.ClientID,
		ClientSecret: gc.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveReadonlyScope},
	}

	tok := &oauth2.Token{RefreshToken: gc.RefreshToken}
	httpClient := conf.Client(context.Background(), tok)

	srv, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, err
	}
	return gdrive.NewClient(srv), nil
}
