// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 为 FaceSynth 的精修循环提供集中式的 TracerProvider 和 MeterProvider。
// 遥测关闭时保持 noop 实现，不连接任何外部服务。
package telemetry
