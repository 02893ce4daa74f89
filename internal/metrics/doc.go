// 版权所有 2024 FaceSynth Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的优化过程指标采集能力，覆盖
优化循环、渲染与产物、文本嵌入、缓存与数据库五大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标，按业务域分组管理。

# 主要能力

  - 优化循环指标：步数与步耗时（按 stage 分组）、各损失分量最新值、
    阶段切换计数、最佳分数与最佳迭代、非有限损失计数。
  - 渲染与产物指标：按视角统计渲染耗时，按类型与结果统计产物写入。
  - 嵌入指标：按 provider 统计请求数与耗时。
  - 缓存指标：命中与未命中计数，按 cache_type 分组。
  - 数据库指标：活跃/空闲连接数 Gauge、查询耗时 Histogram。
*/
package metrics
