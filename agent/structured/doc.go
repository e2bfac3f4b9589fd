// Copyright 2026 Institutionalized Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 structured 负责把模型的自由文本回复变成经过校验的结构化值。

# 抽取

Extract 按顺序尝试：围栏代码块（```json 或 ```）中的 JSON 对象、
从第一个 "{" 到最后一个 "}" 的片段；都失败时返回 *ExtractionError。
围栏代码块优先，即使其他位置也出现了类似 JSON 的文本。
WithRepair 可在严格解析失败后尝试 jsonrepair 修复。
Decode[T] 在抽取后反序列化为 T。

# 校验

  - Contract[T]：有序规则列表，全部通过才接受，首个失败返回 *ValidationError
  - Rule[T]：命名谓词
  - 内置规则：NonEmpty、MinWords、InRange、Required、ContainsQuote、Schema

# 典型用法

	contract := structured.NewContract(
	    structured.InRange("score", 0, 10, func(r Review) float64 { return r.Score }),
	    structured.ContainsQuote(doc, func(r Review) []string { return r.Evidence }),
	)
	review, err := structured.Decode[Review](reply.Text)
	if err == nil {
	    err = contract.Validate(review)
	}
*/
package structured
