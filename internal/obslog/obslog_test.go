package obslog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestReplaceRestores(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	restore := Replace(zap.New(core))
	L().Info("room_created", zap.String("room_id", "r1"))
	restore()
	L().Info("ignored")

	if logs.Len() != 1 {
		t.Fatalf("entries = %d, want 1", logs.Len())
	}
	e := logs.All()[0]
	if e.Message != "room_created" || e.ContextMap()["room_id"] != "r1" {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

func TestBuildWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dicey.log")
	l, err := Build(Options{Level: "debug", Format: "json", ToFile: true, File: path})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	l.Debug("vote_cast", zap.String("room_id", "r1"))
	_ = l.Sync()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(b), `"msg":"vote_cast"`) || !strings.Contains(string(b), `"room_id":"r1"`) {
		t.Fatalf("log line = %s", b)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug": zapcore.DebugLevel, "WARN": zapcore.WarnLevel, "error": zapcore.ErrorLevel, "bogus": zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
