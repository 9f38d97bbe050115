// Copyright (c) InkFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 InkFlow 服务的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 llm/image、generation、
storage、api 等上层模块提供统一的类型契约。

# 核心类型

  - Error / ErrorCode：结构化错误体系，含 HTTP 状态码、Retryable、Provider、Detail 片段
  - Page / PageType：待生成的页面（cover / content / summary）
  - Event / EventType：生成进度事件（image / error / complete）

# 主要能力

  - Context 传播：WithTraceID / WithUserID / WithRequestID / WithTaskID
  - 错误分类：AsError / GetErrorCode / IsErrorCode / IsRetryable，支持 errors.As 解包
  - 面向用户的错误提示：Error.UserMessage
*/
package types
