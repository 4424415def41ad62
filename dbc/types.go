package dbc

import (
	"strconv"
)

// 信号的字节顺序：0代表Motorola格式，1代表Intel格式
const (
	Motorola = iota
	Intel
)

type SgVO struct {
	/**
	* 信号的名字
	 */
	SignalName string
	/**
	* 信号起始位
	 */
	StartBit int
	/**
	* 信号长度
	 */
	BitWidth int
	/**
	* 信号的字节顺序：0代表Motorola格式，1代表Inter格式
	 */
	ByteOrder int
	/**
	* 信号的数值类型：+表示无符号数，-表示有符号数；
	 */
	ValueType string
	/**
	* 因子
	 */
	Factor float64
	/**
	* 偏移量
	* 物理值=原始值*因子+偏移量；
	 */
	Offsets float64
	/**
	* 最小值 范围缺省时为0
	 */
	Min float64
	/**
	* 最大值 范围缺省时为0
	 */
	Max float64
	/**
	* 单位
	 */
	Unit string
	/**
	* 原文
	 */
	DbcContent string
}

type BoVO struct {
	/**
	* 报文id, 十进制规范键
	 */
	CanId string
	/**
	* 报文的名字
	 */
	CanName string
	/**
	* 报文长度(字节)
	 */
	DataLenth uint64
	/**
	* 报文发送节点
	 */
	Transmitter string
	/**
	* 下级信号，信号name为key
	 */
	SgVoMap map[string]*SgVO
	/**
	* 信号名列表,按文件内信号顺序存放
	 */
	OrderedSignals []string
	/**
	* 原文
	 */
	DbcContent string
}

// Matrix 报文矩阵, 构建完成后只读, 可被多个解码协程共享
type Matrix struct {
	BoVoMap map[string]*BoVO
}

func NewMatrix() *Matrix {
	return &Matrix{
		BoVoMap: make(map[string]*BoVO),
	}
}

// Lookup canId为十进制规范键
func (m *Matrix) Lookup(canId string) (*BoVO, bool) {
	boVO, ok := m.BoVoMap[canId]
	return boVO, ok
}

func (m *Matrix) Len() int {
	return len(m.BoVoMap)
}

// CanonicalId 把任意进制字面量(十进制,0x十六进制,0八进制)归一化为十进制文本
func CanonicalId(raw string) (string, bool) {
	v, err := strconv.ParseUint(raw, 0, 64)
	if err != nil {
		return "", false
	}
	return strconv.FormatUint(v, 10), true
}
