package profile

import (
	"errors"
	"fmt"
)

// ErrUnknownProfile：未注册的地理层级
var ErrUnknownProfile = errors.New("unknown geography profile")

// SchemaError：记录缺少必需的标识字段，批处理遇到即终止
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return "schema error: " + e.Reason
	}
	return fmt.Sprintf("schema error: %s: %s", e.Field, e.Reason)
}

// UnknownProfileError：启动阶段无法解析地理层级
type UnknownProfileError struct {
	ID string
}

func (e *UnknownProfileError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnknownProfile.Error(), e.ID)
}

func (e *UnknownProfileError) Unwrap() error { return ErrUnknownProfile }
