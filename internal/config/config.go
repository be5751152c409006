package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port int
	}
	Database struct {
		Path string
	}
	Logging struct {
		Level  string
		Format string
	}
	Dispatcher struct {
		TickSeconds int
	}
	Executor struct {
		Workers        int
		TenantParallel int // cap on concurrent runs per tenant
		QueueSize      int
		TimeoutSeconds int
		PreviewRows    int
	}
	Storage struct {
		Dir string
	}
	Delivery struct {
		SMTP struct {
			Host     string
			Port     int
			From     string
			Password string
		}
		WebhookTimeoutSeconds int
		MaxAttempts           int
		BackoffBaseMs         int
	}
	Notify struct {
		Slack struct {
			Token   string
			Channel string
		}
	}
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Dispatcher.TickSeconds) * time.Second
}

func (c *Config) RunTimeout() time.Duration {
	return time.Duration(c.Executor.TimeoutSeconds) * time.Second
}

func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.Delivery.WebhookTimeoutSeconds) * time.Second
}

func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.Delivery.BackoffBaseMs) * time.Millisecond
}

// LoadConfig reads config.yaml from the working directory, falling back to
// defaults when the file is absent.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("database.path", "data/reportmill.db")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("dispatcher.tickseconds", 60)
	viper.SetDefault("executor.workers", 4)
	viper.SetDefault("executor.tenantparallel", 2)
	viper.SetDefault("executor.queuesize", 256)
	viper.SetDefault("executor.timeoutseconds", 300)
	viper.SetDefault("executor.previewrows", 50)
	viper.SetDefault("storage.dir", "data/artifacts")
	viper.SetDefault("delivery.webhooktimeoutseconds", 30)
	viper.SetDefault("delivery.maxattempts", 3)
	viper.SetDefault("delivery.backoffbasems", 1000)
}
