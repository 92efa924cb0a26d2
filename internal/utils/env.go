// 包 utils：环境变量读取、数据库与 Redis 连接工具
package utils

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvString：读取字符串环境变量，未设置时返回默认值
func EnvString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// EnvInt：读取整数环境变量
// 约束：解析失败或非正数时回退默认值
func EnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// EnvBool：仅 "true"/"1"/"yes" 视为开启
func EnvBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

// EnvSeconds：以秒为单位读取时长
func EnvSeconds(key string, def time.Duration) time.Duration {
	if n := EnvInt(key, 0); n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}
