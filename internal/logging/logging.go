package logging

import (
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Logger astrae l'implementazione concreta del logger usata dai servizi.
type Logger interface {
	// Fatal termina l'applicazione con il messaggio dato
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	// With restituisce un logger che aggiunge i campi dati ad ogni riga
	With(fields map[string]interface{}) Logger
}

// NewLogger crea un logger JSON su stdout con il livello indicato (default info).
func NewLogger(level string) Logger {
	return NewLoggerTo(os.Stdout, level)
}

// NewLoggerTo scrive su w; la console la usa con stderr per non sporcare l'output.
func NewLoggerTo(w io.Writer, level string) Logger {
	l := log.New()
	l.SetOutput(w)
	l.SetFormatter(&log.JSONFormatter{})
	if lvl, err := log.ParseLevel(strings.TrimSpace(level)); err == nil {
		l.SetLevel(lvl)
	} else {
		l.SetLevel(log.InfoLevel)
	}
	return &logger{entry: log.NewEntry(l)}
}

// NewNop scarta tutto; usato nei test.
func NewNop() Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return &logger{entry: log.NewEntry(l)}
}

type logger struct {
	entry *log.Entry
}

func (l *logger) Fatal(args ...interface{}) {
	l.entry.Fatal(args...)
}

func (l *logger) Fatalf(format string, args ...interface{}) {
	l.entry.Fatalf(format, args...)
}

func (l *logger) Error(args ...interface{}) {
	l.entry.Error(args...)
}

func (l *logger) Errorf(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

func (l *logger) Warnf(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

func (l *logger) Infof(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

func (l *logger) Debugf(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

func (l *logger) With(fields map[string]interface{}) Logger {
	return &logger{entry: l.entry.WithFields(log.Fields(fields))}
}
