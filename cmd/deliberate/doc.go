// Copyright 2026 Institutionalized Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package main 提供 deliberate 命令行程序入口。

# 概述

cmd/deliberate 读取一份 YAML 审议计划，在配置好的模型后端上按
parallel / sequential / iterative 拓扑执行一次运行，把结果 JSON 写到
stdout，成本摘要写到 stderr，并把审计日志落地到 file / redis / sql。

# 计划格式

	framework: peer-review
	topology: iterative
	input: {question: "..."}
	agents:
	  - {label: e1, backend: anthropic, model: claude-sonnet-4, prompt: "{{input}} {{previous}}"}
	contract:
	  required: [estimate]
	  ranges: [{field: estimate, min: 0, max: 100}]
	convergence: {check: dispersion, field: estimate, threshold: 0.1}

提示词占位符：{{input}}（输入 JSON）、{{previous}}（上一轮或此前各步
的结果 JSON）、{{round}}（当前轮次或步序号，从 1 开始）。

# 主要能力

  - 子命令：run、version、help
  - 配置：YAML + DELIBERATE_* 环境变量，API Key 可从 .env 读取
  - 可观测：zap 结构化日志、Prometheus /metrics、OpenTelemetry 链路
  - 中断：SIGINT / SIGTERM 取消运行，审计日志仍会写出
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
