// Package sink 是快照的下游。
//
// Gateway 每次从设备读回配置后生成一个 pkg.Snapshot, 通过 Collection.Publish
// 非阻塞地分发给所有启用的 sink。每个 sink 有自己的缓冲通道和字段过滤条件,
// 某个 sink 阻塞或失败不会影响设备会话。目前支持:
//   - prometheus: 字段值作为 gauge 暴露
//   - mqtt / kafka: JSON 消息
//   - influxdb: 每个快照一个点
//   - mongodb: 快照归档
package sink
