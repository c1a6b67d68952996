package config

import (
	"log"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	PaymentNotifications string `mapstructure:"payment_notifications"`
}

type LedgerConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type BusinessConfig struct {
	QueueInitialDelayMillis   int `mapstructure:"queue_initial_delay_ms"`
	SweepIntervalSeconds      int `mapstructure:"sweep_interval_seconds"`
	SweepGraceSeconds         int `mapstructure:"sweep_grace_seconds"`
	SweepBatchSize            int `mapstructure:"sweep_batch_size"`
	ChargeTTLMinutes          int `mapstructure:"charge_ttl_minutes"`
	ExpiryIntervalSeconds     int `mapstructure:"expiry_interval_seconds"`
	ExpiryBatchSize           int `mapstructure:"expiry_batch_size"`
	ExpungeIntervalMinutes    int `mapstructure:"expunge_interval_minutes"`
	ExpungeBatchSize          int `mapstructure:"expunge_batch_size"`
	ExpungeMinimumAgeDays     int `mapstructure:"expunge_minimum_age_days"`
	ExpungeExcludeWindowHours int `mapstructure:"expunge_exclude_window_hours"`
}

var GlobalConfig *Config

func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("read config file: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("parse config file: %v", err)
	}

	GlobalConfig = config
	return config
}
