/*
Package mesh 提供人脸网格资产的读写。

# 概述

mesh 负责加载优化所需的静态资产：平均脸 OBJ 网格、平均顶点、固定三角剖分与
形状基矩阵（core basis），并将优化后的网格连同材质贴图导出为 OBJ。

# 核心类型

  - Array：NPY 数组（形状 + float64 数据）
  - Mesh：顶点、UV、三角面与材质图像
  - Basis：形状基矩阵 [rank, 3·numVerts]，Expand / Backward
  - Assets：一次运行所需的全部资产，LoadAssets 负责校验

资产缺失或形状不一致时返回 types.ErrAssetMissing / types.ErrAssetInvalid，
调用方应在优化开始前终止运行。
*/
package mesh
