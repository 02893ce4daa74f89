// Copyright (c) FaceSynth Authors.
// Licensed under the MIT License.

/*
Package types 提供 FaceSynth 的结构化错误体系。

# 概述

types 是最底层的公共包，不依赖任何内部包。资产加载、渲染、精修、
嵌入提供者和配置校验都通过 ErrorCode 报告失败，调用方用
IsErrorCode 判断类别，不解析错误文本。

# 错误码

  - 资产：ErrAssetMissing、ErrAssetInvalid
  - 能力与配置：ErrCapabilityUnavailable、ErrInvalidConfig
  - 精修：ErrSnapshotMissing、ErrShapeMismatch
  - 上游：ErrInvalidRequest、ErrUnauthorized、ErrForbidden、ErrRateLimited、
    ErrUpstreamError

# 工具函数

  - NewError / Errorf 构造，WithCause / WithRetryable 等链式附加元数据
  - AsError / IsErrorCode / IsRetryable / GetErrorCode 沿 Unwrap 链查找
*/
package types
