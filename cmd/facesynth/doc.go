// Copyright (c) FaceSynth Authors.
// Licensed under the MIT License.

/*
Package main 提供 FaceSynth 命令行入口。

# 概述

cmd/facesynth 读取 YAML 配置与 FACESYNTH_ 环境变量，装配分类器、
形状与纹理生成器、可微渲染器和精修循环，对一个名字执行具体合成，
给出 --prompt 时继续按提示词精修并导出结果。

# 子命令

  - run       具体合成，可选提示词精修
  - schedule  预览三阶段超参数调度（表格或 JSON）
  - views     列出注册的相机视角
  - version   显示构建注入的版本信息

# 可选组件

  - Redis：嵌入向量缓存（redis.enabled）
  - 数据库：运行记录、历史与最佳快照（database.enabled）
  - Prometheus：/metrics 端点（metrics.enabled），运行结束后按 linger 保留
  - OpenTelemetry：OTLP 链路与指标（telemetry.enabled）
*/
package main
