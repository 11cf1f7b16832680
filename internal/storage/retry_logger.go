package storage

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"go-degen-pov/internal/logger"
)

// retryLogger adapts logrus to retryablehttp.LeveledLogger.
// URLs are reduced to their host before logging.
type retryLogger struct {
	log *logrus.Logger
}

var _ retryablehttp.LeveledLogger = (*retryLogger)(nil)

// NewRetryLogger returns a retryablehttp logger that writes through log
func NewRetryLogger(log *logrus.Logger) retryablehttp.LeveledLogger {
	return &retryLogger{log: log}
}

func (l *retryLogger) fields(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{"component": "http_client"}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		value := keysAndValues[i+1]
		switch key {
		case "url":
			fields["url_host"] = logger.HostOf(fmt.Sprint(value))
		case "error":
			if err, ok := value.(error); ok {
				var urlErr *url.Error
				if errors.As(err, &urlErr) {
					value = urlErr.Err.Error()
				} else {
					value = err.Error()
				}
			}
			fields[key] = value
		default:
			fields[key] = value
		}
	}
	return fields
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(l.fields(keysAndValues)).Error(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(l.fields(keysAndValues)).Info(msg)
}

// Debug messages are emitted per attempt
func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(l.fields(keysAndValues)).Debug(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(l.fields(keysAndValues)).Warn(msg)
}
