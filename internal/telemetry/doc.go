// 版权所有 2024 InkFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package telemetry 初始化 OpenTelemetry SDK (OTLP gRPC 导出 trace 与指标)。
// 编排器的 generation.page、适配器的 image.generate / image.download 以及
// HTTP 中间件的 span 都通过全局 provider 输出; 关闭遥测时保持 noop。
package telemetry
