// 版权所有 2024 InkFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
inkflow 是 InkFlow 的命令行入口.

子命令 serve 组装配置、数据库、提供者注册表、任务状态存储与编排器,
在 chi 路由上挂载生成、重试、图片与历史接口; migrate 包装
internal/migration 的迁移命令; cleanup 运行一次过期清理.

中间件按 Recovery、RequestID、SecurityHeaders、OTelTracing、
MetricsMiddleware、RequestLogger、CORS、RateLimiter 的顺序执行, /api
分组额外启用 JWTAuth 与请求体大小限制.

使用方法:

	inkflow serve --config config.yaml  # 启动服务
	inkflow migrate up                  # 运行数据库迁移
	inkflow migrate status              # 查看迁移状态
	inkflow cleanup                     # 清理过期历史记录与图片
	inkflow health --ready              # 就绪检查
	inkflow version                     # 显示版本信息
*/
package main
