// Copyright 2026 Institutionalized Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package testutil 提供测试共享的工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 审计断言: AssertLedgerConsistent 校验序号、时间戳与成本合计
  - 异步断言: AssertEventuallyTrue / WaitFor
  - 数据工具: MustJSON / MustParseJSON / FencedJSON
  - 时钟: SteppingClock 生成确定性时间戳

# 子包

  - testutil/mocks: MockBackend（llm.ModelBackend），支持脚本化回复、
    延迟、错误注入与调用记录

# 使用示例

	ctx := testutil.TestContext(t)
	backend := mocks.NewMockBackend("mock").WithText(testutil.FencedJSON(v))
*/
package testutil
