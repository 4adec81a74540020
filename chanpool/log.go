package chanpool

import "github.com/qixuanl1/grpc-gcp-pool/internal/chanlog"

// Thin pass-throughs to internal/chanlog so the rest of the package can
// log without repeating the import - same call-site shape rclone uses
// for fs.Debugf(f, ...) throughout backend/smb.

func logDebugf(tag chanlog.Tag, format string, args ...interface{}) {
	chanlog.Debugf(tag, format, args...)
}

func logWarnf(tag chanlog.Tag, format string, args ...interface{}) {
	chanlog.Warnf(tag, format, args...)
}

func logErrorf(tag chanlog.Tag, format string, args ...interface{}) {
	chanlog.Errorf(tag, format, args...)
}
