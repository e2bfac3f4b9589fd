// Copyright 2026 Institutionalized Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
包 llm 提供统一的模型后端接入层：后端抽象、调用参数、错误语义与后端注册表。

# 概述

本包屏蔽不同模型服务商在接口、鉴权和错误语义上的差异，向审议引擎暴露
一致的 [AgentSpec] 与 [RawReply]。后端只负责一次出站请求，重试、超时、
并发与成本核算由 workflow 包统一处理。

# 核心接口

  - [ModelBackend]：Call / EstimateCost / ID，每次 Call 恰好一次请求

# 核心类型

  - [BackendID]：后端标识，取值 openai、anthropic、openrouter
  - [AgentSpec]：一次 agent 调用的全部参数，[NewAgentSpec] 填充默认温度与输出上限
  - [RawReply]：原始文本、token 用量与后端元数据
  - [BackendError]：非 2xx、网络错误或信封格式错误，Retryable 标记可重试性
  - [ConfigurationError]：发起调用之前即可发现的配置问题
  - [Registry]：按 BackendID 索引的后端集合，并发安全

# 后端工厂

各服务商子包在 init 中调用 [RegisterFactory]，上层通过 [NewBackend]
按 ID 与 [BackendConfig] 构造后端，无需直接依赖具体实现。

# 相关子包

- llm/providers：openai、anthropic、openrouter 适配与公共错误映射。
- llm/pricing：模型价格表与兜底价格。
- llm/tokenizer：服务端未返回用量时的 token 估算。
- llm/retry：退避重试策略。
- llm/observability：OpenTelemetry 调用与运行链路。
*/
package llm
