/*
包 cache 提供基于 Redis 的缓存管理能力，用于缓存文本嵌入等可复用的远程结果。

# 核心类型

  - Manager：持有 go-redis 客户端，提供 Get/Set/Delete 以及
    GetJSON/SetJSON 序列化方法。所有键自动加上配置的前缀。
  - Config：地址、密码、数据库编号、默认 TTL、键前缀与健康检查间隔。
  - Stats：进程内命中/未命中计数。

未命中返回哨兵错误 ErrCacheMiss，可用 IsCacheMiss 判断。
*/
package cache
