package datastore

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/florai/contrib-pipeline/internal/conf"
)

// dbConnectTimeout bounds dialing and single reads/writes on server databases.
const dbConnectTimeout = "10s"

func sqliteDialector(settings *conf.SQLiteSettings) (gorm.Dialector, error) {
	path := settings.Path
	if path == "" {
		return nil, validationError("sqlite path is required", "database.sqlite.path", path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, dbError(fmt.Errorf("failed to create database directory: %w", err), "open", "")
		}
	}
	// Recommended pragmas: WAL for concurrent readers, foreign keys on.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	return sqlite.Open(dsn), nil
}

// mysqlDialector builds the DSN with mysql.Config for proper credential escaping.
func mysqlDialector(settings *conf.MySQLSettings) (gorm.Dialector, error) {
	if settings.Host == "" || settings.Database == "" {
		return nil, validationError("mysql host and database are required", "database.mysql", settings.Host)
	}
	port := settings.Port
	if port == 0 {
		port = 3306
	}

	cfg := mysql.NewConfig()
	cfg.User = settings.Username
	cfg.Passwd = settings.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(settings.Host, strconv.Itoa(port))
	cfg.DBName = settings.Database
	cfg.ParseTime = true
	cfg.Params = map[string]string{
		"charset":      "utf8mb4",
		"timeout":      dbConnectTimeout,
		"readTimeout":  dbConnectTimeout,
		"writeTimeout": dbConnectTimeout,
	}
	return gormmysql.Open(cfg.FormatDSN()), nil
}

func postgresDialector(settings *conf.PostgresSettings) (gorm.Dialector, error) {
	if settings.Host == "" || settings.Database == "" {
		return nil, validationError("postgres host and database are required", "database.postgres", settings.Host)
	}
	port := settings.Port
	if port == 0 {
		port = 5432
	}
	sslMode := settings.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := strings.Join([]string{
		"host=" + quoteDSNValue(settings.Host),
		"port=" + strconv.Itoa(port),
		"user=" + quoteDSNValue(settings.Username),
		"password=" + quoteDSNValue(settings.Password),
		"dbname=" + quoteDSNValue(settings.Database),
		"sslmode=" + quoteDSNValue(sslMode),
		"connect_timeout=10",
		"TimeZone=UTC",
	}, " ")
	return postgres.Open(dsn), nil
}

// quoteDSNValue quotes a libpq keyword/value parameter.
func quoteDSNValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
