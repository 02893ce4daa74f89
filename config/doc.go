// Package config 提供 FaceSynth 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序叠加，
// 环境变量键由前缀与各层 env tag 拼接而成，例如
// FACESYNTH_REFINE_STEPS、FACESYNTH_DATABASE_DRIVER。
// Validate 一次性返回全部问题，错误码为 INVALID_CONFIG。
package config
