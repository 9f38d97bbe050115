// 版权所有 2024 InkFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理 InkFlow API 与 metrics 两个 HTTP 服务器的生命周期。

# 概述

Manager 封装 net/http.Server: Start 非阻塞监听, 配置了证书时以
tlsutil.DefaultTLSConfig 启动 HTTPS; Shutdown 在超时内排空连接;
WaitForShutdown 等待 SIGINT/SIGTERM 或调用方 context 结束。

事件流接口会保持连接直到最后一页生成完成, 因此默认 WriteTimeout
按分钟计。
*/
package server
