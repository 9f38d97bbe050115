// Package config 提供 InkFlow 的配置管理功能。
//
// 包含服务配置加载（默认值 → YAML → 环境变量）、图像提供者注册表及其
// 轮询热重载，以及按 注册表 → 全局覆盖 → 用户覆盖 顺序解析生效提供者的
// ProviderResolver。
package config
