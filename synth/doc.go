// Package synth 提供文本到人脸网格的生成协作者与完整流程：
//
//   - LinearClassifier：文本 → 形状/纹理 one-hot 标签
//   - LinearShapeGenerator：形状标签 → 形状参数
//   - LinearTextureGenerator：(噪声, 纹理标签) → 潜变量 → 纹理图像
//   - EmbeddingScorer：渲染图与文本提示的相似度损失
//   - Pipeline：具体合成（result_concrete.obj）后按提示精修（result_prompt.obj）
//
// 所有网络都是单层线性映射，权重可从 NPY 文件加载，未配置时按种子确定性初始化。
package synth
