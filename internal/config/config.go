package config

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hectorm/portunus/internal/utils/env"
)

type Config struct {
	SSHDPortMin       int
	SSHDPortMax       int
	SSHDStateTimeout  time.Duration
	RedisHost         string
	RedisPort         int
	RedisPassword     string
	RedisDB           int
	PostgresHost      string
	PostgresPort      int
	PostgresUser      string
	PostgresPassword  string
	PostgresDatabase  string
	MySQLHost         string
	MySQLPort         int
	MySQLUser         string
	MySQLPasswd       string
	MySQLDatabase     string
	GitHubAccessToken string
	GitHubOrgLogin    string
	GitHubTeamSlugs   string
	AWSAccessKey      string
	AWSSecretKey      string
	AWSS3Bucket       string
	LogLevel          string
}

var (
	Version    = "dev"
	Author     = "Héctor Molinero Fernández <hector@molinero.dev>"
	License    = "EUPL-v1.2-or-later, https://interoperable-europe.ec.europa.eu/collection/eupl"
	Repository = "https://github.com/hectorm/portunus"
)

func NewConfig() *Config {
	config := &Config{}
	showVersion := false

	flag.IntVar(
		&config.SSHDPortMin,
		"sshd-port-min",
		env.IntEnv(12220, "PORTUNUS_SSHD_PORT_MIN"),
		"lowest port the sshd pool may bind (env PORTUNUS_SSHD_PORT_MIN)",
	)

	flag.IntVar(
		&config.SSHDPortMax,
		"sshd-port-max",
		env.IntEnv(12399, "PORTUNUS_SSHD_PORT_MAX"),
		"highest port the sshd pool may bind (env PORTUNUS_SSHD_PORT_MAX)",
	)

	flag.DurationVar(
		&config.SSHDStateTimeout,
		"sshd-state-timeout",
		env.DurationEnv(30*time.Second, "PORTUNUS_SSHD_STATE_TIMEOUT"),
		"how long to wait for daemons to change state on startup and teardown (env PORTUNUS_SSHD_STATE_TIMEOUT)",
	)

	flag.StringVar(
		&config.RedisHost,
		"redis-host",
		env.StringEnv("", "PORTUNUS_REDIS_HOST", "REDIS_HOST"),
		"host of the redis instance used by tests; disabled if empty (env PORTUNUS_REDIS_HOST, REDIS_HOST)",
	)

	flag.IntVar(
		&config.RedisPort,
		"redis-port",
		env.IntEnv(6379, "PORTUNUS_REDIS_PORT", "REDIS_PORT"),
		"port of the redis instance used by tests (env PORTUNUS_REDIS_PORT, REDIS_PORT)",
	)

	flag.StringVar(
		&config.RedisPassword,
		"redis-password",
		env.StringEnv("", "PORTUNUS_REDIS_PASSWORD", "REDIS_PASSWORD"),
		"password of the redis instance used by tests (env PORTUNUS_REDIS_PASSWORD, REDIS_PASSWORD)",
	)

	flag.IntVar(
		&config.RedisDB,
		"redis-db",
		env.IntEnv(1, "PORTUNUS_REDIS_DB", "REDIS_DB"),
		"redis database number used by tests (env PORTUNUS_REDIS_DB, REDIS_DB)",
	)

	flag.StringVar(
		&config.PostgresHost,
		"postgresql-host",
		env.StringEnv("", "PORTUNUS_POSTGRESQL_HOST", "PGHOST"),
		"host of the postgresql database used by tests; disabled if empty (env PORTUNUS_POSTGRESQL_HOST, PGHOST)",
	)

	flag.IntVar(
		&config.PostgresPort,
		"postgresql-port",
		env.IntEnv(5432, "PORTUNUS_POSTGRESQL_PORT", "PGPORT"),
		"port of the postgresql database used by tests (env PORTUNUS_POSTGRESQL_PORT, PGPORT)",
	)

	flag.StringVar(
		&config.PostgresUser,
		"postgresql-user",
		env.StringEnv("", "PORTUNUS_POSTGRESQL_USER", "PGUSER"),
		"user of the postgresql database used by tests (env PORTUNUS_POSTGRESQL_USER, PGUSER)",
	)

	flag.StringVar(
		&config.PostgresPassword,
		"postgresql-password",
		env.StringEnv("", "PORTUNUS_POSTGRESQL_PASSWORD", "PGPASSWORD"),
		"password of the postgresql database used by tests (env PORTUNUS_POSTGRESQL_PASSWORD, PGPASSWORD)",
	)

	flag.StringVar(
		&config.PostgresDatabase,
		"postgresql-database",
		env.StringEnv("", "PORTUNUS_POSTGRESQL_DATABASE", "PGDATABASE"),
		"name of the postgresql database used by tests (env PORTUNUS_POSTGRESQL_DATABASE, PGDATABASE)",
	)

	flag.StringVar(
		&config.MySQLHost,
		"mysql-host",
		env.StringEnv("", "PORTUNUS_MYSQL_HOST", "MYSQL_HOST"),
		"host of the mysql database used by tests; disabled if empty (env PORTUNUS_MYSQL_HOST, MYSQL_HOST)",
	)

	flag.IntVar(
		&config.MySQLPort,
		"mysql-port",
		env.IntEnv(3306, "PORTUNUS_MYSQL_PORT", "MYSQL_PORT"),
		"port of the mysql database used by tests (env PORTUNUS_MYSQL_PORT, MYSQL_PORT)",
	)

	flag.StringVar(
		&config.MySQLUser,
		"mysql-user",
		env.StringEnv("", "PORTUNUS_MYSQL_USER", "MYSQL_USER"),
		"user of the mysql database used by tests (env PORTUNUS_MYSQL_USER, MYSQL_USER)",
	)

	flag.StringVar(
		&config.MySQLPasswd,
		"mysql-passwd",
		env.StringEnv("", "PORTUNUS_MYSQL_PASSWD", "MYSQL_PASSWD"),
		"password of the mysql database used by tests (env PORTUNUS_MYSQL_PASSWD, MYSQL_PASSWD)",
	)

	flag.StringVar(
		&config.MySQLDatabase,
		"mysql-database",
		env.StringEnv("", "PORTUNUS_MYSQL_DATABASE", "MYSQL_DATABASE"),
		"name of the mysql database used by tests (env PORTUNUS_MYSQL_DATABASE, MYSQL_DATABASE)",
	)

	flag.StringVar(
		&config.GitHubAccessToken,
		"github-access-token",
		env.StringEnv("", "PORTUNUS_GITHUB_ACCESS_TOKEN", "GITHUB_ACCESS_TOKEN"),
		"github access token for tests against the live API; disabled if empty (env PORTUNUS_GITHUB_ACCESS_TOKEN, GITHUB_ACCESS_TOKEN)",
	)

	flag.StringVar(
		&config.GitHubOrgLogin,
		"github-org-login",
		env.StringEnv("", "PORTUNUS_GITHUB_ORG_LOGIN", "GITHUB_ORG_LOGIN"),
		"github organization login for tests against the live API (env PORTUNUS_GITHUB_ORG_LOGIN, GITHUB_ORG_LOGIN)",
	)

	flag.StringVar(
		&config.GitHubTeamSlugs,
		"github-team-slugs",
		env.StringEnv("", "PORTUNUS_GITHUB_TEAM_SLUGS", "GITHUB_TEAM_SLUGS"),
		"space-separated github team slugs for tests against the live API (env PORTUNUS_GITHUB_TEAM_SLUGS, GITHUB_TEAM_SLUGS)",
	)

	flag.StringVar(
		&config.AWSAccessKey,
		"aws-access-key",
		env.StringEnv("", "PORTUNUS_AWS_ACCESS_KEY", "AWS_ACCESS_KEY"),
		"aws access key for tests against live services; disabled if empty (env PORTUNUS_AWS_ACCESS_KEY, AWS_ACCESS_KEY)",
	)

	flag.StringVar(
		&config.AWSSecretKey,
		"aws-secret-key",
		env.StringEnv("", "PORTUNUS_AWS_SECRET_KEY", "AWS_SECRET_KEY"),
		"aws secret key for tests against live services (env PORTUNUS_AWS_SECRET_KEY, AWS_SECRET_KEY)",
	)

	flag.StringVar(
		&config.AWSS3Bucket,
		"aws-s3-bucket",
		env.StringEnv("", "PORTUNUS_AWS_S3_BUCKET", "AWS_S3_BUCKET"),
		"aws s3 bucket name for tests against live services (env PORTUNUS_AWS_S3_BUCKET, AWS_S3_BUCKET)",
	)

	flag.StringVar(
		&config.LogLevel,
		"log-level",
		env.StringEnv("info", "PORTUNUS_LOG_LEVEL"),
		"log level: debug, info, warn, error, quiet (env PORTUNUS_LOG_LEVEL)",
	)

	flag.BoolVar(
		&showVersion,
		"version",
		false,
		"show version and exit",
	)

	flag.Parse()

	if showVersion {
		var sb strings.Builder
		fmt.Fprintf(&sb, "Portunus %s\n", Version)
		fmt.Fprintf(&sb, "Author: %s\n", Author)
		fmt.Fprintf(&sb, "License: %s\n", License)
		fmt.Fprintf(&sb, "Repository: %s\n", Repository)
		fmt.Print(sb.String())
		os.Exit(0)
	}

	var logger *slog.Logger
	switch config.LogLevel {
	case "debug":
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case "info":
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	case "warn":
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	case "error":
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	case "quiet":
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	default:
		slog.Error("invalid log level", "level", config.LogLevel)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if config.SSHDPortMin < 1 || config.SSHDPortMax > 65535 || config.SSHDPortMin > config.SSHDPortMax {
		slog.Error("invalid sshd port range", "min", config.SSHDPortMin, "max", config.SSHDPortMax)
		os.Exit(1)
	}

	if config.SSHDStateTimeout <= 0 {
		slog.Error("invalid sshd state timeout", "timeout", config.SSHDStateTimeout)
		os.Exit(1)
	}

	return config
}

// RedisAddr returns the host:port of the configured redis instance, or
// an empty string when redis is not configured.
func (c *Config) RedisAddr() string {
	if c.RedisHost == "" {
		return ""
	}
	return net.JoinHostPort(c.RedisHost, strconv.Itoa(c.RedisPort))
}

// PostgresDSN returns a postgres:// URL for the configured database, or
// an empty string when postgresql is not configured.
func (c *Config) PostgresDSN() string {
	if c.PostgresHost == "" {
		return ""
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.PostgresHost, strconv.Itoa(c.PostgresPort)),
	}
	if c.PostgresDatabase != "" {
		u.Path = "/" + c.PostgresDatabase
	}
	if c.PostgresUser != "" {
		if c.PostgresPassword != "" {
			u.User = url.UserPassword(c.PostgresUser, c.PostgresPassword)
		} else {
			u.User = url.User(c.PostgresUser)
		}
	}

	return u.String()
}

// MySQLDSN returns a driver DSN of the form user:passwd@tcp(host:port)/db
// for the configured database, or an empty string when mysql is not
// configured.
func (c *Config) MySQLDSN() string {
	if c.MySQLHost == "" {
		return ""
	}

	var sb strings.Builder
	if c.MySQLUser != "" {
		sb.WriteString(c.MySQLUser)
		if c.MySQLPasswd != "" {
			sb.WriteString(":")
			sb.WriteString(c.MySQLPasswd)
		}
		sb.WriteString("@")
	}
	fmt.Fprintf(&sb, "tcp(%s)/%s", net.JoinHostPort(c.MySQLHost, strconv.Itoa(c.MySQLPort)), c.MySQLDatabase)

	return sb.String()
}

// GitHubTeams splits the configured space-separated team slugs.
func (c *Config) GitHubTeams() []string {
	return strings.Fields(c.GitHubTeamSlugs)
}
