/*
包 server 提供指标端点的 HTTP 生命周期管理。

Manager 在后台暴露 /metrics（promhttp）与 /healthz，支持非阻塞启动
与优雅关闭。监听地址为 ":0" 时可通过 ListenAddr 取得实际端口。
*/
package server
