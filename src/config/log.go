package config

import (
	"io"
	"os"
	"path/filepath"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// InitLog configures the standard logrus logger. With a log path set, logs
// are written to stdout and to a daily rotated file in that directory.
func InitLog(conf Log) error {
	lvl, err := logrus.ParseLevel(conf.Level)
	if err != nil {
		lvl = logrus.InfoLevel
	}

	writers := []io.Writer{os.Stdout}
	if conf.Path != "" {
		exePath, _ := os.Executable()
		executableName := filepath.Base(exePath)
		fileHook, err := rotatelogs.New(
			filepath.Join(conf.Path, executableName+".%Y%m%d%H%M.log"),
			rotatelogs.WithLinkName(filepath.Join(conf.Path, executableName+".log")),
			rotatelogs.WithMaxAge(30*24*time.Hour),
			rotatelogs.WithRotationTime(24*time.Hour),
		)
		if err != nil {
			return errors.Wrap(err, "failed to create rotating log file")
		}
		writers = append(writers, fileHook)
	}

	logrus.SetOutput(io.MultiWriter(writers...))
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return nil
}
