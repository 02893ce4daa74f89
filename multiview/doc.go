// Package multiview 管理固定的相机视角注册表，并在其上渲染网格、计算跨视角一致性损失。
//
// 注册表包含 5 个视角: front、left、right、top_left、top_right。
// 未知视角名称回退到 front，而不是返回错误。
package multiview
