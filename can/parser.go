package can

import (
	"path/filepath"
	"strconv"
	"strings"
)

// 日志行型
const (
	FormatAsc     = "asc" // "ts [chan] id Rx d dlc b0 b1 ..."
	FormatCandump = "log" // "(ts) iface id#HEX", 数据段无分隔符
	FormatPlain   = "txt" // "ts id [Rx|Tx] b0 b1 ..."
)

// RecognizeFunc 单行识别器, 纯函数, 不匹配时第二个返回值为false
type RecognizeFunc func(line string) (Frame, bool)

// 扩展名 -> 识别器优先顺序
// 行型之间互为结构子集, 歧义行归先试的识别器, 这里的顺序是对外承诺的策略, 不要随意调整
var orderByExt = map[string][]string{
	".asc": {FormatAsc, FormatPlain, FormatCandump},
	".log": {FormatCandump, FormatAsc, FormatPlain},
}

// DefaultOrder 扩展名不可识别且调用方未指定顺序时的兜底顺序
func DefaultOrder() []string {
	return []string{FormatAsc, FormatCandump, FormatPlain}
}

func recognizerOf(name string) RecognizeFunc {
	switch name {
	case FormatAsc:
		return matchAsc
	case FormatCandump:
		return matchCandump
	case FormatPlain:
		return matchPlain
	default:
		return nil
	}
}

// OrderFor 按来源文件扩展名选择识别器顺序, 识别不了时用调用方传入的fallback
func OrderFor(sourceName string, fallback []string) []string {
	ext := strings.ToLower(filepath.Ext(sourceName))
	if order, ok := orderByExt[ext]; ok {
		return order
	}

	if len(fallback) > 0 {
		return fallback
	}
	return DefaultOrder()
}

// Parse 把一份日志文本逐行转成规范帧序列
// 空行和注释行无条件跳过; 每行按顺序轮询识别器, 首个命中者胜出;
// 谁都不认的行直接丢弃, 不产生诊断 -- 真实抓包里夹杂表头和无关文本是常态
func Parse(text string, sourceName string, fallback []string) []Frame {
	order := OrderFor(sourceName, fallback)

	var frames []Frame
	for _, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimSpace(rawLine)
		if "" == line || isComment(line) {
			continue
		}

		for _, name := range order {
			match := recognizerOf(name)
			if match == nil {
				continue
			}

			if frame, ok := match(line); ok {
				frames = append(frames, frame)
				break
			}
		}
	}

	return frames
}

func isComment(line string) bool {
	return strings.HasPrefix(line, "//") ||
		strings.HasPrefix(line, "#") ||
		strings.HasPrefix(line, ";")
}

// parseTimestamp 整数时间戳同样合法, 不强制带小数部分;
// 表头行里的"Timestamp"字样要在这里挡掉, 让该行落给下一个识别器
func parseTimestamp(tok string) (float64, bool) {
	if strings.Contains(strings.ToLower(tok), "timestamp") {
		return 0, false
	}

	ts, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

func isDirToken(tok string) bool {
	return strings.EqualFold(tok, "rx") || strings.EqualFold(tok, "tx")
}

func dirOf(tok string) uint8 {
	if strings.EqualFold(tok, "tx") {
		return DirSend
	}
	return DirRecv
}

func isHexByte(tok string) bool {
	if len(tok) != 2 {
		return false
	}

	for i := 0; i < len(tok); i++ {
		c := tok[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

// takeHexBytes 从token流里取连续的十六进制字节对, 遇到第一个非法token停下
// dlc永远取实际切出的字节数, 截断的数据段得到变短但自洽的帧
func takeHexBytes(toks []string) []string {
	var data []string
	for _, tok := range toks {
		if !isHexByte(tok) {
			break
		}
		data = append(data, strings.ToUpper(tok))
	}
	return data
}

// splitHexChunk 无分隔符数据段按两字符一组切分, 奇数个尾字符丢弃
func splitHexChunk(chunk string) []string {
	var data []string
	for i := 0; i+1 < len(chunk); i += 2 {
		tok := chunk[i : i+2]
		if !isHexByte(tok) {
			break
		}
		data = append(data, strings.ToUpper(tok))
	}
	return data
}

func isDeclaredDlc(tok string) bool {
	if len(tok) < 1 || len(tok) > 2 {
		return false
	}

	_, err := strconv.ParseUint(tok, 10, 8)
	return err == nil
}

// matchAsc: "0.002345 1 18FEBF0Bx Rx d 8 00 00 7D 7D 7D 7D FF FF"
// 通道号可有可无, id可带表示扩展帧的后缀x
func matchAsc(line string) (Frame, bool) {
	f := strings.Fields(line)
	if len(f) < 4 {
		return Frame{}, false
	}

	ts, ok := parseTimestamp(f[0])
	if !ok {
		return Frame{}, false
	}

	// 方向token最早出现在第3列(无通道号), 最晚第4列
	di := 0
	for i := 2; i <= 3 && i < len(f); i++ {
		if isDirToken(f[i]) {
			di = i
			break
		}
	}
	if di == 0 {
		return Frame{}, false
	}

	idTok := strings.TrimSuffix(strings.TrimSuffix(f[di-1], "x"), "X")
	canId, ok := CanonicalId(idTok)
	if !ok {
		return Frame{}, false
	}

	rest := f[di+1:]
	// 帧类型token后面跟着来源声明的dlc, 不采信, 只跳过
	if len(rest) > 0 && ("d" == rest[0] || "r" == rest[0]) {
		rest = rest[1:]
		if len(rest) > 0 && isDeclaredDlc(rest[0]) {
			rest = rest[1:]
		}
	}

	data := takeHexBytes(rest)
	return Frame{
		Timestamp: ts,
		CanId:     canId,
		Dlc:       len(data),
		Data:      data,
		Direction: dirOf(f[di]),
	}, true
}

// matchCandump: "(1690681909.123456) can0 18FEBF0B#00007D7D7D7DFFFF"
// 不携带方向token, 默认收
func matchCandump(line string) (Frame, bool) {
	f := strings.Fields(line)
	if len(f) < 3 {
		return Frame{}, false
	}

	if !strings.HasPrefix(f[0], "(") || !strings.HasSuffix(f[0], ")") {
		return Frame{}, false
	}

	ts, ok := parseTimestamp(strings.Trim(f[0], "()"))
	if !ok {
		return Frame{}, false
	}

	idData := strings.SplitN(f[2], "#", 2)
	if len(idData) != 2 {
		return Frame{}, false
	}

	canId, ok := CanonicalId(idData[0])
	if !ok {
		return Frame{}, false
	}

	data := splitHexChunk(idData[1])
	return Frame{
		Timestamp: ts,
		CanId:     canId,
		Dlc:       len(data),
		Data:      data,
		Direction: DirRecv,
	}, true
}

// matchPlain: "1690681909.5 174 Rx 00 00 00 AA 0D 00 00 00"
// 最宽松的行型, 只要求时间戳和id两列, 放在顺序尾部兜底
func matchPlain(line string) (Frame, bool) {
	f := strings.Fields(line)
	if len(f) < 2 {
		return Frame{}, false
	}

	ts, ok := parseTimestamp(f[0])
	if !ok {
		return Frame{}, false
	}

	canId, ok := CanonicalId(f[1])
	if !ok {
		return Frame{}, false
	}

	rest := f[2:]
	direction := uint8(DirRecv)
	if len(rest) > 0 && isDirToken(rest[0]) {
		direction = dirOf(rest[0])
		rest = rest[1:]
	}

	data := takeHexBytes(rest)
	return Frame{
		Timestamp: ts,
		CanId:     canId,
		Dlc:       len(data),
		Data:      data,
		Direction: direction,
	}, true
}
