// 版权所有 2024 InkFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 定义服务对外暴露的 Prometheus 指标。

NewCollector 注册到默认 Registerer，由指标端口的 promhttp 处理器导出；
测试或嵌入场景用 NewCollectorWith 传入独立的 Registry。所有序列带
namespace 前缀：

  - http_*：按路由模板与状态类别 (2xx 等) 统计请求数、耗时与包体大小。
  - page_generations_total、page_generation_duration_seconds、
    generated_image_bytes：单页生成结果，按 provider 与错误码分组。
  - generation_runs_total、generation_events_total、generation_active_runs：
    生成、重试、重新生成的运行结果与 SSE/WS 事件数。
  - cache_lookups_total：进程内缓存 (参考图等) 的命中与未命中。
  - db_*：连接池占用与历史记录查询耗时。
*/
package metrics
