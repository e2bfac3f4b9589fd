// Copyright 2026 Institutionalized Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
包 metrics 提供基于 Prometheus 的审议引擎指标采集能力，覆盖
Agent 调用、迭代轮次、运行结果与审计数据库四个维度。

# 概述

Collector 通过 promauto.With(reg) 注册指标，测试可传入独立的
prometheus.Registry 隔离。Collector 实现 workflow.Recorder，
由引擎在每次调用尝试、重试、轮次与运行结束时回调。

# 主要能力

  - 调用指标：尝试次数、耗时、Token 用量（input/output）、成本、
    重试次数、并发占用，按 backend/model 分组。
  - 拓扑指标：轮次计数与最新收敛统计量、运行计数、耗时与成本分布。
  - 数据库指标：审计库活跃/空闲连接数 Gauge。
*/
package metrics
