package dbc

import (
	"strings"
	"sync"

	_ "embed"
)

//go:embed default.dbc
var defaultDbc string

var (
	defaultOnce   sync.Once
	defaultMatrix *Matrix
)

// Default 内嵌的缺省矩阵, 每个进程只构建一次, 之后只读
func Default() *Matrix {
	defaultOnce.Do(func() {
		defaultMatrix = NewParser(strings.NewReader(defaultDbc)).Parse()
	})
	return defaultMatrix
}
