package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	ServiceName string `yaml:"service_name" env:"LOGGER_SERVICE_NAME" env-default:"raygate" env-description:"Service name"`
	Level       string `yaml:"level" env:"LOGGER_LEVEL" env-default:"info" env-description:"Log verbosity"`
	Pretty      bool   `yaml:"pretty" env:"LOGGER_PRETTY" env-default:"false" env-description:"Enables human readable logging. Otherwise, uses json output"`
}

func New(cfg Config) *zap.SugaredLogger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	atomicLevel := zap.NewAtomicLevelAt(level)

	encoder := getEncoder()

	fileWriter := getLogWriter(cfg.ServiceName)

	fileCore := zapcore.NewCore(encoder, fileWriter, atomicLevel)

	consoleWriter := zapcore.Lock(os.Stdout)
	consoleCore := zapcore.NewCore(encoder, consoleWriter, atomicLevel)

	core := zapcore.NewTee(fileCore, consoleCore)

	logger := zap.New(core, zap.AddCaller()).Sugar()

	return logger
}

func getEncoder() zapcore.Encoder {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
	}
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func getLogWriter(serviceName string) zapcore.WriteSyncer {
	lumberJackLogger := &lumberjack.Logger{
		Filename:   "logs/" + serviceName + `.log`,
		MaxSize:    50, // MB
		MaxBackups: 10,
		MaxAge:     30, // days
		Compress:   true,
	}
	return zapcore.AddSync(lumberJackLogger)
}
