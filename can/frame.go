package can

import (
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// Direction
const (
	DirRecv = iota
	DirSend
)

// 规范id前缀, 无论来源文本是什么进制, id一律存成0x前缀大写十六进制
const IdPrefix = "0x"

// Frame 一条总线报文观测记录
// 成功解析一行生成一条, 生成后不再修改, 只允许解码引擎一次性补上Decoded
type Frame struct {
	/**
	* 时间戳, 单位秒, 由来源记录仪给出
	 */
	Timestamp float64 `json:"t"`
	/**
	* 规范id, 0x前缀大写十六进制
	 */
	CanId string `json:"id"`
	/**
	* 载荷长度 = 成功切出的字节token数, 不信任来源声明的长度字段
	 */
	Dlc int `json:"dlc"`
	/**
	* 载荷, 大写两位十六进制token
	 */
	Data []string `json:"data"`
	/**
	* 方向, 来源不带方向token时默认DirRecv
	 */
	Direction uint8 `json:"d"`
	/**
	* 信号名->物理值, 解码前为nil
	 */
	Decoded map[string]float64 `json:"decoded,omitempty"`
}

// CanonicalId 十六进制id文本(可带0x前缀)归一化为规范形式
func CanonicalId(raw string) (string, bool) {
	s := strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return "", false
	}
	return IdPrefix + strings.ToUpper(strconv.FormatUint(v, 16)), true
}

// DecimalId 规范id换算成矩阵查表用的十进制键
func (f *Frame) DecimalId() (string, bool) {
	v, err := strconv.ParseUint(strings.TrimPrefix(f.CanId, IdPrefix), 16, 64)
	if err != nil {
		return "", false
	}
	return strconv.FormatUint(v, 10), true
}

func (f *Frame) PayloadBytes() []byte {
	payload := make([]byte, 0, len(f.Data))
	for _, tok := range f.Data {
		b, err := strconv.ParseUint(tok, 16, 8)
		if err != nil {
			break
		}
		payload = append(payload, byte(b))
	}
	return payload
}

// MarshalFrames 给下游(看板/推送)的JSON序列化出口
func MarshalFrames(frames []Frame) ([]byte, error) {
	return jsoniter.Marshal(frames)
}
