// Package report 将质量跟踪历史写成结构化 JSON 和 2×2 折线图 PNG，
// 并提供渲染结果与纹理的 JPEG/PNG 编码。
package report
