// Package logging provides process-wide logrus helpers, chiefly persistent
// file logging alongside the normal stdout output.
package logging

import (
	"os"
	"strings"

	joonix "github.com/joonix/log"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// fileLogger mirrors everything the process logs into the configured file.
var fileLogger = &logrus.Logger{
	Level: logrus.TraceLevel,
}

// mirrorHook forwards entries from the standard logger to fileLogger.
type mirrorHook struct {
	levels []logrus.Level
}

func (h *mirrorHook) Fire(entry *logrus.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	fileLogger.Println(strings.TrimSuffix(line, "\n"))
	return nil
}

func (h *mirrorHook) Levels() []logrus.Level {
	return h.levels
}

// ConfigurePersistentLogging appends every log entry to the named file in
// the given format, in addition to the usual stdout output. Colors are
// never written to the file; ANSI codes read as gibberish there.
func ConfigurePersistentLogging(fileName, format string) error {
	logrus.WithField("fileName", fileName).Info("Logs will be made persistent")
	f, err := os.OpenFile(fileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600) // #nosec G304 -- operator-supplied path
	if err != nil {
		return err
	}
	fileLogger.SetOutput(f)

	switch format {
	case "text":
		formatter := new(prefixed.TextFormatter)
		formatter.TimestampFormat = "2006-01-02 15:04:05"
		formatter.FullTimestamp = true
		formatter.DisableColors = true
		fileLogger.SetFormatter(formatter)
	case "fluentd":
		fileLogger.SetFormatter(joonix.NewFormatter())
	case "json":
		fileLogger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return errors.Errorf("unknown log file format %s", format)
	}

	logrus.AddHook(&mirrorHook{levels: logrus.AllLevels})
	return nil
}
