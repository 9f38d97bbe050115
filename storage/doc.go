// 版权所有 2024 InkFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 storage 提供基于 GORM 的图片、历史记录与提供者覆盖配置持久化。

# 核心类型

  - ImageStore：实现 generation.ImageStore。SaveImage 按
    (user_id, task_id, filename) upsert，重新生成直接覆盖；文件名为
    {keyword}{index}.png，同时保存 JPEG 缩略图。
  - HistoryService：CreateRecord 从标题提取关键词；OnFirstSuccess 实现
    generation.HistoryHook，第一页成功后才开始计算 7 天有效期；
    SyncTaskImages 刷新图片列表与 draft/partial/completed 状态；
    CleanupExpired / RunCleanup 删除过期记录及其图片。
  - ProviderOverlays：实现 config.OverlaySource，读取全局与用户级
    提供者覆盖配置。

schema 由 internal/migration 管理，AutoMigrate 仅用于 sqlite 开发环境。
*/
package storage
