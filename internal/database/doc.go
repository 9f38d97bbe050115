// 版权所有 2024 InkFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 负责打开 GORM 连接并管理连接池。

# 概述

Open 按 config.DatabaseConfig 的驱动选择 postgres、mysql 或 sqlite
方言；sqlite 通过 modernc 纯 Go 驱动接入，默认开启外键、WAL 与
busy_timeout。GORM 日志经 NewGormLogger 输出到 zap，慢查询以 warn
级别记录。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB、Ping、Stats、
    Close，以及可选的后台健康检查。
  - PoolConfig：连接池参数；PoolConfigFromDatabase 从应用配置派生，
    sqlite 固定为单连接。
  - TransactionFunc：事务回调。WithTransactionRetry 对死锁、锁超时、
    SQLITE_BUSY 等瞬时错误做指数退避重试。
*/
package database
