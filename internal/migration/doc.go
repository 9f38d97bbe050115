// 版权所有 2024 InkFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理 InkFlow 持久化层的 schema 版本，支持 PostgreSQL、
MySQL 与 SQLite，基于 golang-migrate 实现。

# 概述

各方言的 SQL 脚本通过 embed.FS 内嵌在二进制中，包含 images、
histories、provider_configs 与 user_provider_configs 四张表。
SQLite 使用 modernc 纯 Go 驱动，无需 CGO。

# 核心类型

  - Migrator / DefaultMigrator：Up/Down/DownAll/Steps/Goto/Force/
    Version/Status/Info/Close。操作受 context 控制，取消时在当前脚本
    结束后停止。
  - Config：方言、连接串、版本表名、锁超时与 zap 日志。
  - CLI：inkflow migrate 子命令的终端输出层，Run 按命令名分派。

# 工厂函数

NewMigratorFromDatabaseConfig 从 config.DatabaseConfig 构造连接串；NewMigratorFromURL 直接使用现成连接串。
*/
package migration
