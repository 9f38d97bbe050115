// 版权所有 2024 InkFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package handlers 提供 InkFlow HTTP API 的请求处理器实现。

# 概述

handlers 包实现图片生成、任务进度、图片读取、历史记录与健康检查端点,
以及统一的响应/错误处理。处理器只依赖小接口 (Generator、ImageReader、
KeywordSource、HistoryStore), 路由由 cmd/inkflow 用 chi 组装。

# 核心类型

  - GenerationHandler：/generate 与 /retry-failed 的 SSE 流、WebSocket
    变体、单页 retry / regenerate、任务状态与图片读取
  - HistoryHandler：历史记录创建、查询与图片同步
  - HealthHandler：/health、/ready、/version, 可注册 HealthCheck
  - Response：统一 JSON 响应结构 (success + data + error + timestamp)
  - ResponseWriter：捕获状态码与字节数, 透传 Flush 与 Hijack

# 错误映射

HTTPStatusFor 将 types.ErrorCode 映射为响应状态码: 配置与请求错误 400,
未找到 404, 鉴权 401, 限流 429, 上游提供者错误 502, 网络错误 504。
提供者错误返回 UserMessage, 附带修复提示与上游响应片段。

# 事件流

SSE 帧格式为 "event: <type>\ndata: <json>\n\n", 每个事件写出后立即
Flush。客户端断开只停止写出, 生成在后台继续并写入任务状态。
*/
package handlers
