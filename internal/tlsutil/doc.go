// 版权所有 2024 InkFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// 包 tlsutil 集中 TLS 1.2+ 与 AEAD 套件的默认配置, 供 HTTPS 监听,
// Redis 连接以及调用图像提供者的出站 HTTP 客户端共用。
package tlsutil
