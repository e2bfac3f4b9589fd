// Copyright 2026 Institutionalized Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 openai 提供 OpenAI 模型后端。Chat Completions 请求委托给
openaicompat.Provider，本包只负责默认地址、组织请求头与价格表。

# 核心结构体

  - OpenAIProvider：嵌入 openaicompat.Provider，实现 llm.ModelBackend

# 价格

NewPriceTable 返回按百万 token 计价的默认价格表，未知模型按 gpt-4o
的价格估算。价格可通过 providers.OpenAIConfig.Pricing 覆盖。

# 注册

包初始化时向 llm.RegisterFactory 注册 llm.BackendOpenAI 的构造函数。
*/
package openai
