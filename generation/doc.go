// 版权所有 2024 InkFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 generation 编排一个任务的多页图片生成：封面优先、其余页受限并发、
失败页重试与单页重新生成，并以事件流报告进度。

# 核心类型

  - Orchestrator：Generate / RetryFailed 返回事件通道，
    RetrySingle / Regenerate 返回单页 Outcome，GetTaskState 返回快照。
  - TaskStore：任务状态存储，MemoryStore（go-cache）与 RedisStore
    （internal/cache 的乐观事务）两种实现，同一任务的更新串行化。
  - TaskState：已生成与失败页码两个互斥集合，以及封面、大纲等上下文。
  - PromptBuilder：把页面渲染为提示词，默认使用内置 text/template 模板。
  - ProviderResolver / ImageStore / HistoryHook：由上层注入的协作者。

# 事件协议

每页恰好一个 image 或 error 事件，最后一个 complete 事件，随后关闭通道。
通道容量为页数加一，消费者离开不会阻塞生成；调用方取消 ctx 也不会中断
已开始的任务。
*/
package generation
