package config

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// writerHook пишет записи уровней levels в writer.
type writerHook struct {
	writer io.Writer
	levels []logrus.Level
}

func (h *writerHook) Fire(e *logrus.Entry) error {
	line, err := e.Bytes()
	if err != nil {
		return err
	}
	_, err = h.writer.Write(line)
	return err
}

func (h *writerHook) Levels() []logrus.Level {
	return h.levels
}

// NewLogger журнал процесса: консоль с уровнем Level и, если задан
// File, ротируемый файл с уровнем FileLevel. Возвращаемый io.Closer
// закрывает файл.
func NewLogger(cfg Logging, console io.Writer) (*logrus.Logger, io.Closer, error) {
	if console == nil {
		console = os.Stderr
	}
	consoleLevel, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000"})
	logger.AddHook(&writerHook{writer: console, levels: levelsUpTo(consoleLevel)})
	maxLevel := consoleLevel

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		fileLevel, err := logrus.ParseLevel(cfg.FileLevel)
		if err != nil {
			return nil, nil, err
		}
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		logger.AddHook(&writerHook{writer: file, levels: levelsUpTo(fileLevel)})
		closer = file
		if fileLevel > maxLevel {
			maxLevel = fileLevel
		}
	}
	logger.SetLevel(maxLevel)
	return logger, closer, nil
}

func levelsUpTo(max logrus.Level) []logrus.Level {
	var levels []logrus.Level
	for _, l := range logrus.AllLevels {
		if l <= max {
			levels = append(levels, l)
		}
	}
	return levels
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
