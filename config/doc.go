// Copyright 2026 Institutionalized Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package config 提供审议引擎的配置结构、默认值与加载器。

# 加载顺序

默认值 → YAML 文件 → 以 DELIBERATE_ 为前缀的环境变量 → 验证器。
环境变量名由嵌套的 env 标签拼接而成，例如 DELIBERATE_ENGINE_MAX_ROUNDS、
DELIBERATE_AUDIT_DATABASE_DSN。Backends 只能在 YAML 中配置。

# 密钥

配置文件只记录 API Key 所在的环境变量名（api_key_env），
密钥由调用方通过 Config.Backend 解析，核心包不读取环境变量。
*/
package config
