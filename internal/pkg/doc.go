/*
Package pkg 包含了项目的公共类部分。具体地：

config.go -- 统一定义了所有配置的加载项，便于使用

logger.go -- 配置logger项

errChan.go -- context 上挂载的 logger / config / 错误通道

以下项因为在多个模块共用，故放置在此包中

assembler.go -- 设备响应分片的组装

bytesPool.go -- 传输层读缓冲池

snapshot.go -- 配置快照模型定义

perf.go -- 设备交互统计
*/
package pkg
