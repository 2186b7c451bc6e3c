package config_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/okian/cadenza/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()

		convey.Convey("When loading config with defaults only", func() {
			clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg, convey.ShouldNotBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.Store, convey.ShouldEqual, "memory")
				convey.So(cfg.SubmitTimeoutMS, convey.ShouldEqual, 10_000)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("CADENZA_ADDR", ":8080")
			_ = os.Setenv("CADENZA_NOTIFY_QUEUE_SIZE", "64")
			_ = os.Setenv("CADENZA_NOTIFY_WORKER_COUNT", "2")
			_ = os.Setenv("CADENZA_AGGREGATE_MAX_RETRIES", "3")
			_ = os.Setenv("CADENZA_STORE", "NATS")
			_ = os.Setenv("CADENZA_NATS_BUCKET_PREFIX", "academy")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.NotifyQueueSize, convey.ShouldEqual, 64)
				convey.So(cfg.NotifyWorkerCount, convey.ShouldEqual, 2)
				convey.So(cfg.AggregateMaxRetries, convey.ShouldEqual, 3)
				convey.So(cfg.Store, convey.ShouldEqual, config.StoreNATS)
				convey.So(cfg.NATSBucketPrefix, convey.ShouldEqual, "academy")
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			yamlContent := `
addr: ":9090"
store: mongo
mongo_uri: "mongodb://db:27017"
mongo_database: academy
seed_file: /etc/cadenza/seed.yaml
submit_timeout_ms: 2500
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("CADENZA_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from YAML file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.Store, convey.ShouldEqual, config.StoreMongo)
				convey.So(cfg.MongoURI, convey.ShouldEqual, "mongodb://db:27017")
				convey.So(cfg.MongoDatabase, convey.ShouldEqual, "academy")
				convey.So(cfg.SeedFile, convey.ShouldEqual, "/etc/cadenza/seed.yaml")
				convey.So(cfg.SubmitTimeoutMS, convey.ShouldEqual, 2500)
				convey.So(cfg.DedupeSize, convey.ShouldEqual, 50_000) // From defaults
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			yamlContent := `
addr: ":9090"
dedupe_size: 1000
`
			tmpFile := createTempConfigFile(yamlContent)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("CADENZA_CONFIG", tmpFile)
			_ = os.Setenv("CADENZA_ADDR", ":8080")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")    // Overridden by env
				convey.So(cfg.DedupeSize, convey.ShouldEqual, 1000) // From file
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()

			_ = os.Setenv("CADENZA_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("CADENZA_CONFIG", "/non/existent/file.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with empty addr", func() {
			_ = os.Setenv("CADENZA_ADDR", "")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(err.Error(), convey.ShouldContainSubstring, "addr must not be empty")
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When selecting sendgrid without credentials", func() {
			_ = os.Setenv("CADENZA_NOTIFIER", "sendgrid")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a validation error", func() {
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("CADENZA_NOTIFY_QUEUE_SIZE", "invalid")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	envVars := []string{
		"CADENZA_CONFIG",
		"CADENZA_ADDR",
		"CADENZA_STORE",
		"CADENZA_NATS_BUCKET_PREFIX",
		"CADENZA_NOTIFIER",
		"CADENZA_NOTIFY_QUEUE_SIZE",
		"CADENZA_NOTIFY_WORKER_COUNT",
		"CADENZA_AGGREGATE_MAX_RETRIES",
	}
	for _, envVar := range envVars {
		_ = os.Unsetenv(envVar)
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "cadenza-config-*.yaml")
	if err != nil {
		panic(err)
	}

	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}

	if err := tmpFile.Close(); err != nil {
		panic(err)
	}

	return tmpFile.Name()
}
