// Package quality 跟踪优化过程的质量分数，记录历史并保存最佳参数快照。
//
// 质量分数 = 0.6·clipLoss + 0.04·(l2Latent + l2Param)，越低越好。
// NaN/Inf 分数会写入历史，但永远不会成为最佳结果。
//
// Tracker 只负责评分和快照，可视化由 report 包根据 History 生成。
package quality
