package remotestore

import (
	"fmt"

	"github.com/smallbiznis/nfsync/internal/config"
	"github.com/smallbiznis/nfsync/internal/remotestore/domain"
	"github.com/smallbiznis/nfsync/internal/remotestore/ftp"
	"github.com/smallbiznis/nfsync/internal/remotestore/local"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("remotestore",
	fx.Provide(New),
)

// New picks the store implementation named by REMOTE_STORE_TYPE.
func New(cfg config.Config, log *zap.Logger) (domain.Client, error) {
	rs := cfg.RemoteStore
	switch rs.Type {
	case config.RemoteStoreFTP, "":
		if rs.FTPHost == "" {
			return nil, fmt.Errorf("remotestore: FTP_HOST is required for the ftp store")
		}
		return ftp.New(ftp.Config{
			Host:     rs.FTPHost,
			Port:     rs.FTPPort,
			Username: rs.FTPUsername,
			Password: rs.FTPPassword,
			Timeout:  rs.FTPTimeout,
		}, log), nil
	case config.RemoteStoreLocal:
		return local.New(rs.LocalRoot, log), nil
	default:
		return nil, fmt.Errorf("remotestore: unsupported type %q", rs.Type)
	}
}
