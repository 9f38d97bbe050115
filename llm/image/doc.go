// 版权所有 2024 InkFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 image 提供统一的图像生成提供者抽象，把不同服务商非统一的 HTTP
响应形态归一化为“单页图像字节”这一契约。

# 概述

所有提供者都通过 OpenAI 兼容的 HTTP 接口访问，但返回形态各异：
JSON 中的 base64 字段、流式 chat 增量、markdown 内嵌图片、裸 URL。
本包屏蔽这些差异，对上层编排器暴露一致的 Provider 接口。

# 核心接口

  - Provider：Name、Validate（缺少凭据时返回 CONFIG_ERROR）、
    Generate（一次 HTTP 交换，返回图像字节或分类错误）。
  - Config：端点、模型、默认宽高比、image_size、超时与提取选择策略。
  - Extractor / Document：有序的纯函数提取链。
  - Downloader：下载 chat 回复中的图片 URL。

# 主要能力

  - 两种请求模式：ImagesProvider（/v1/images/generations）与
    ChatProvider（/v1/chat/completions），由 NewProvider 按端点选择。
  - 参考图：先经 internal/imaging 压缩到预算，再以 data URI 嵌入请求。
  - 流式/非流式自动识别：AccumulateText 统一输出累计文本。
  - 错误分类：401 / 429 / 其他非 2xx / JSON 解析 / 提取 / 下载 / 网络。
  - 生成调用不自动重试；只有辅助下载使用 llm/retry 的有限退避。
*/
package image
