// Package refine 实现按提示词精修人脸的优化循环。
//
// 每一步：调度器给出阶段超参数，纹理生成器由潜变量合成纹理，
// 正面视角渲染后由 Scorer 给出语义损失，再加上潜变量与形状参数
// 相对初值的 L2 正则，以及按间隔计算的多视角一致性损失。
// 梯度经渲染器、纹理重采样与形状基传回，两组参数各自用 Adam 更新。
//
// 循环结束后写出报告，并以质量跟踪器保存的最佳快照（而非最后一次迭代）
// 作为最终参数导出网格。
package refine
