// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 构建 OTLP gRPC 链路与指标导出，并为审议引擎提供 observability.Observer。
// 当遥测功能禁用时，使用 noop 实现，不连接任何外部服务。
package telemetry
