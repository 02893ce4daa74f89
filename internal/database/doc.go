// 版权所有 2024 FaceSynth Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 打开运行记录库并管理其连接池。

# 概述

Open 按配置选择 GORM 方言（postgres、mysql 或纯 Go 的 sqlite），
再交给 PoolManager 统一管理连接生命周期。sqlite 固定为单连接。
后台健康检查定时探活，异常时通过 zap 日志输出诊断信息。

# 核心类型

  - PoolManager：持有 GORM DB 与底层 sql.DB，提供 DB()、Ping()、
    Stats()、Close() 等生命周期方法。
  - PoolConfig：最大空闲连接数、最大打开连接数、连接生命周期、
    空闲超时与健康检查间隔。

# 指标

通过 WithMetrics 接入 metrics.Collector 后，健康检查上报打开与空闲
连接数，create/query/update/delete 回调记录 SQL 耗时。
*/
package database
