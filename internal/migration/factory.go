package migration

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/config"
)

// NewMigratorFromDatabaseConfig 与 database.Open 读取同一份配置, 保证迁移
// 和服务连接的是同一个库. sqlite 下 Name 是文件路径, mysql 忽略 SSLMode.
func NewMigratorFromDatabaseConfig(db config.DatabaseConfig, logger *zap.Logger) (*DefaultMigrator, error) {
	dbType, err := ParseDatabaseType(db.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}

	url := BuildDatabaseURL(dbType, db.Host, db.Port, db.Name, db.User, db.Password, db.SSLMode)
	switch dbType {
	case DatabaseTypeMySQL:
		url = BuildDatabaseURL(dbType, db.Host, db.Port, db.Name, db.User, db.Password, "")
	case DatabaseTypeSQLite:
		url = BuildDatabaseURL(dbType, "", 0, db.Name, "", "", "")
	}
	return NewMigrator(&Config{DatabaseType: dbType, DatabaseURL: url, Logger: logger})
}

// NewMigratorFromURL 供 --db-type/--db-url 直接指定连接串.
func NewMigratorFromURL(dbType, dbURL string, logger *zap.Logger) (*DefaultMigrator, error) {
	dt, err := ParseDatabaseType(dbType)
	if err != nil {
		return nil, err
	}
	return NewMigrator(&Config{DatabaseType: dt, DatabaseURL: dbURL, Logger: logger})
}
