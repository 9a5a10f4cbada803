package logger_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/service-router/pkg/logger"
)

var _ = Describe("Logger", func() {
	ctx := context.Background()

	Describe("New", func() {
		DescribeTable("creates a logger for every level",
			func(level string) {
				log, cleanup := logger.New(logger.Config{Level: level, Environment: "dev"})
				defer cleanup()
				Expect(log).NotTo(BeNil())
			},
			Entry("info", "info"),
			Entry("debug", "debug"),
			Entry("warn", "warn"),
			Entry("error", "error"),
			Entry("invalid falls back to info", "invalid"),
		)

		It("should create prod logger", func() {
			log, cleanup := logger.New(logger.Config{Level: "info", Environment: "prod"})
			defer cleanup()
			Expect(log).NotTo(BeNil())
		})

		It("should default to info level", func() {
			log, cleanup := logger.New(logger.Config{Level: "info", Environment: "dev"})
			defer cleanup()

			Expect(log.Enabled(ctx, slog.LevelInfo)).To(BeTrue())
			Expect(log.Enabled(ctx, slog.LevelDebug)).To(BeFalse())
		})

		It("should respect debug level", func() {
			log, cleanup := logger.New(logger.Config{Level: "debug", Environment: "dev"})
			defer cleanup()

			Expect(log.Enabled(ctx, slog.LevelDebug)).To(BeTrue())
			Expect(log.Enabled(ctx, slog.LevelInfo)).To(BeTrue())
		})

		It("should respect warn level", func() {
			log, cleanup := logger.New(logger.Config{Level: "warn", Environment: "dev"})
			defer cleanup()

			Expect(log.Enabled(ctx, slog.LevelInfo)).To(BeFalse())
			Expect(log.Enabled(ctx, slog.LevelWarn)).To(BeTrue())
		})

		It("should respect error level", func() {
			log, cleanup := logger.New(logger.Config{Level: "error", Environment: "dev"})
			defer cleanup()

			Expect(log.Enabled(ctx, slog.LevelWarn)).To(BeFalse())
			Expect(log.Enabled(ctx, slog.LevelError)).To(BeTrue())
		})
	})

	Describe("file output", func() {
		var dir string

		BeforeEach(func() {
			var err error
			dir, err = os.MkdirTemp("", "logger-test-*")
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			os.RemoveAll(dir)
		})

		It("should write JSON records to the rotating file", func() {
			path := filepath.Join(dir, "logs", "router.log")
			log, cleanup := logger.New(logger.Config{
				Level:       "info",
				Environment: "dev",
				File:        logger.FileConfig{Path: path, MaxSizeMB: 1},
			})

			log.Info("outbound request", slog.String("service", "crm"))
			cleanup()

			data, err := os.ReadFile(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring(`"msg":"outbound request"`))
			Expect(string(data)).To(ContainSubstring(`"service":"crm"`))
			Expect(string(data)).To(ContainSubstring(`"environment":"dev"`))
		})

		It("should not write filtered levels to the file", func() {
			path := filepath.Join(dir, "router.log")
			log, cleanup := logger.New(logger.Config{
				Level:       "warn",
				Environment: "dev",
				File:        logger.FileConfig{Path: path, MaxSizeMB: 1},
			})

			log.Info("dropped")
			log.Warn("kept")
			cleanup()

			data, err := os.ReadFile(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).NotTo(ContainSubstring("dropped"))
			Expect(string(data)).To(ContainSubstring("kept"))
		})
	})

	Describe("Discard", func() {
		It("should return a usable logger", func() {
			log := logger.Discard()
			Expect(log).NotTo(BeNil())
			log.Info("nothing to see")
		})
	})
})
