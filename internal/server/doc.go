/*
包 server 提供 Prometheus 指标 HTTP 服务器的生命周期管理。

# 核心类型

  - Manager：持有 http.Server、net.Listener 与异步错误通道，
    提供 Start/Shutdown/Errors 等生命周期方法。
  - Config：监听地址、读写超时与优雅关闭超时。
  - MetricsHandler：挂载指标路径（默认 /metrics）与 /healthz。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中运行服务。
  - 优雅关闭：Shutdown 在配置的超时内完成请求排空，重复调用为空操作。
  - 错误传播：Errors() 返回异步错误通道。
*/
package server
