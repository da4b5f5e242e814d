package vfs

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"

	"github.com/latticedb/lattice/config"
	"github.com/latticedb/lattice/errors"
)

// FromConfig builds the VFS implementation selected by the vfs.backend
// key ("local", the default, or "s3"), forwarding the rest of the vfs.*
// keys to the S3 session when backend is "s3": vfs.region, vfs.endpoint,
// vfs.force_path_style, vfs.disable_ssl.
func FromConfig(cfg *config.Config) (VFS, error) {
	sub := cfg.WithPrefix("vfs")
	backend := sub["backend"]
	if backend == "" {
		backend = "local"
	}

	switch backend {
	case "local":
		return NewLocal(), nil
	case "s3":
		awsCfg := aws.NewConfig()
		if region, ok := sub["region"]; ok && region != "" {
			awsCfg = awsCfg.WithRegion(region)
		}
		if endpoint, ok := sub["endpoint"]; ok && endpoint != "" {
			awsCfg = awsCfg.WithEndpoint(endpoint)
		}
		if sub["force_path_style"] == "true" {
			awsCfg = awsCfg.WithS3ForcePathStyle(true)
		}
		if sub["disable_ssl"] == "true" {
			awsCfg = awsCfg.WithDisableSSL(true)
		}
		sess, err := session.NewSession(awsCfg)
		if err != nil {
			return nil, errors.Wrap(err, "vfs: building s3 session from config")
		}
		return NewS3(sess), nil
	default:
		return nil, errors.New(errors.CodeInvalidArgument, "vfs: unknown vfs.backend "+backend)
	}
}
