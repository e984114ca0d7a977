package correction_test

import (
	"flag"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/lmittmann/tint"
)

var logger *slog.Logger

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Verbose() {
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: slog.LevelDebug, TimeFormat: time.Kitchen}))
	} else {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	os.Exit(m.Run())
}
