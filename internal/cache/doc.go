// 版权所有 2024 InkFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 封装 go-redis 客户端，供多实例部署时的任务状态存储使用。

Manager 只暴露任务存储需要的几种操作：GetJSON 读取并解码，Delete
批量删除，Update 基于 WATCH/MULTI 做单键读改写，冲突时重试，直到
UpdateFunc 成功或放弃。所有键自动带上 Config.KeyPrefix，多个部署
可以共享同一个 Redis。

NewManager 建连时 Ping 一次，不可达直接报错；HealthCheckInterval
大于 0 时后台定时探活，失败只记 warn 日志。Close 之后所有调用返回
ErrClosed。
*/
package cache
