// Copyright 2026 Institutionalized Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
包 observability 基于 OpenTelemetry 为 Agent 调用与审议运行提供
Span 追踪与指标采集。

# 概述

Observer 在每次调用尝试时开启 "agent.call" Span，结束时记录
状态、Token、成本与耗时；运行级 "deliberation.run" Span 作为父 Span，
迭代拓扑每轮在其上追加 "deliberation.round" 事件。

默认使用全局 TracerProvider 与 MeterProvider，由 internal/telemetry
初始化 OTLP 导出；测试可通过 WithTracerProvider / WithMeterProvider
注入 SDK 内存实现。nil Observer 的方法均为空操作。

# 指标

  - agent.call.total / agent.error.total / agent.token.total
  - agent.call.duration / agent.call.cost
  - agent.call.active
  - deliberation.round.total / deliberation.run.total / deliberation.run.cost
*/
package observability
