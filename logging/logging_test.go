package logging

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
)

func TestSubloggerNames(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	sub := logger.Sublogger("sfm").Sublogger("pairs")
	sub.Infow("scored pairs", "count", 3)

	entries := logs.All()
	test.That(t, len(entries), test.ShouldEqual, 1)
	test.That(t, entries[0].LoggerName, test.ShouldEqual, "sfm.pairs")
	test.That(t, entries[0].Message, test.ShouldEqual, "scored pairs")
	test.That(t, entries[0].ContextMap()["count"], test.ShouldEqual, int64(3))
}

func TestSetLevel(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	sub := logger.Sublogger("grow")

	sub.Debug("visible")
	logger.SetLevel(WARN)
	test.That(t, sub.GetLevel(), test.ShouldEqual, WARN)
	sub.Debug("hidden")
	sub.Info("hidden")
	sub.Warnf("resection of %s failed", "img1")

	entries := logs.All()
	test.That(t, len(entries), test.ShouldEqual, 2)
	test.That(t, entries[0].Message, test.ShouldEqual, "visible")
	test.That(t, entries[1].Level, test.ShouldEqual, zapcore.WarnLevel)
	test.That(t, entries[1].Message, test.ShouldEqual, "resection of img1 failed")
}

func TestLevelFromString(t *testing.T) {
	for _, tc := range []struct {
		in       string
		expected Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"warning", WARN},
		{"Error", ERROR},
	} {
		level, err := LevelFromString(tc.in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, tc.expected)
		test.That(t, level.AsZap().String(), test.ShouldNotBeEmpty)
	}
	_, err := LevelFromString("loud")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestBlankLogger(t *testing.T) {
	logger := NewBlankLogger("quiet")
	logger.Infof("nothing %d", 1)
	test.That(t, logger.Sync(), test.ShouldBeNil)
}

func TestLoggerWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sfm.log")
	logger, closer := NewLoggerWithFile("sfm", INFO, path)
	logger.Sublogger("grow").Infow("added shot", "shot", "a.jpg")
	logger.Debug("not written")
	test.That(t, closer.Close(), test.ShouldBeNil)

	data, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(data), test.ShouldContainSubstring, `"msg":"added shot"`)
	test.That(t, string(data), test.ShouldContainSubstring, `"logger":"sfm.grow"`)
	test.That(t, string(data), test.ShouldNotContainSubstring, "not written")
}
