package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Log общий логгер сервиса
var Log = logrus.New()

// Init настраивает уровень и формат логов.
// В production пишем JSON (для сбора логов), в разработке - текст.
func Init(level, environment string) {
	Log.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)

	if environment == "production" {
		Log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// WithTurn логгер с полями смены
func WithTurn(turnID, name string) *logrus.Entry {
	return Log.WithFields(logrus.Fields{"ipv_id": turnID, "ipv": name})
}
