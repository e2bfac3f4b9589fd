// Copyright 2026 Institutionalized Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
包 database 为审计 SQL 存储打开 GORM 连接，并统一连接池配置。

# 概述

Open 根据驱动名选择 GORM 方言（sqlite、postgres、mysql），
打开连接后应用连接池参数。DB 封装 GORM 实例与底层 sql.DB，
提供 Ping、Stats、Close 等生命周期方法。

# 核心类型

  - Config：驱动、DSN 与连接池参数。
  - DB：连接句柄，持有 GORM DB 与 sql.DB。
  - Stats：友好格式的连接池统计信息。
*/
package database
