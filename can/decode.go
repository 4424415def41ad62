package can

import (
	"math"
	"strconv"
	"sync"

	"github.com/research1-alt/Can-Log-Convertor-analyzer/base"
	"github.com/research1-alt/Can-Log-Convertor-analyzer/dbc"
)

var log = base.Logger

// DecodeFrames 对每一帧套用矩阵解信号, 纯函数, 永不失败
// 矩阵里查不到的id是正常情况(无关流量), 该帧原样通过, Decoded保持nil
func DecodeFrames(frames []Frame, matrix *dbc.Matrix) []Frame {
	out := make([]Frame, len(frames))
	for i := range frames {
		out[i] = decodeFrame(frames[i], matrix)
	}
	return out
}

// DecodeFramesParallel 把帧序列分片到多个协程解码
// 矩阵构建完后只读, 各帧解码互不影响, 不需要加锁
func DecodeFramesParallel(frames []Frame, matrix *dbc.Matrix, routines int) []Frame {
	if routines <= 1 || len(frames) <= routines {
		return DecodeFrames(frames, matrix)
	}

	out := make([]Frame, len(frames))
	chunk := (len(frames) + routines - 1) / routines

	var wg sync.WaitGroup
	for begin := 0; begin < len(frames); begin += chunk {
		end := begin + chunk
		if end > len(frames) {
			end = len(frames)
		}

		wg.Add(1)
		go func(begin, end int) {
			defer wg.Done()
			for i := begin; i < end; i++ {
				out[i] = decodeFrame(frames[i], matrix)
			}
		}(begin, end)
	}
	wg.Wait()

	return out
}

func decodeFrame(frame Frame, matrix *dbc.Matrix) Frame {
	decId, ok := frame.DecimalId()
	if !ok {
		return frame
	}

	boVO, ok := matrix.Lookup(decId)
	if !ok {
		log.Debugf("No dbc data, canId(%s)", frame.CanId)
		return frame
	}

	payload := frame.PayloadBytes()
	// 取声明dlc和实际数据长度中较短的一段
	if boVO.DataLenth > 0 && uint64(len(payload)) > boVO.DataLenth {
		payload = payload[:boVO.DataLenth]
	}

	decoded := make(map[string]float64, len(boVO.OrderedSignals))
	for _, sigName := range boVO.OrderedSignals {
		sgVo := boVO.SgVoMap[sigName]
		decoded[sigName] = physicalValue(rawValue(payload, sgVo), sgVo)
	}

	frame.Decoded = decoded
	return frame
}

// rawValue 按位抽取信号原始值
//
// Intel(小端): 信号第i位读载荷第(StartBit+i)位, 位号在字节内从最低位数起;
// Motorola(大端): 载荷按64位流编号, 流内第k位落在第k/8字节的第(7-k%8)位,
// 字节顺序不反转, 先消费的流位是原始值的最高位;
// 越过实际载荷末尾的位一律按0处理, 不报错
func rawValue(payload []byte, sgVo *dbc.SgVO) uint64 {
	var retVal uint64

	if dbc.Intel == sgVo.ByteOrder {
		for i := 0; i < sgVo.BitWidth; i++ {
			k := sgVo.StartBit + i
			byteIdx := k / 8
			if byteIdx < 0 || byteIdx >= len(payload) {
				continue
			}

			retVal |= uint64((payload[byteIdx]>>(k%8))&0x01) << i
		}
	} else {
		for i := 0; i < sgVo.BitWidth; i++ {
			k := sgVo.StartBit + i
			byteIdx := k / 8
			if byteIdx < 0 {
				continue
			}
			if byteIdx >= len(payload) {
				// 字节号越过载荷末尾后不会再回来, 余下的位全是0
				break
			}

			retVal |= uint64((payload[byteIdx]>>(7-k%8))&0x01) << (sgVo.BitWidth - 1 - i)
		}
	}

	return retVal
}

// physicalValue 补码符号扩展后线性换算, 物理值=原始值*因子+偏移量
func physicalValue(raw uint64, sgVo *dbc.SgVO) float64 {
	val := float64(raw)
	if "-" == sgVo.ValueType && sgVo.BitWidth >= 1 && sgVo.BitWidth <= 64 {
		if raw&(1<<uint(sgVo.BitWidth-1)) != 0 {
			val = float64(raw) - math.Ldexp(1, sgVo.BitWidth)
		}
	}

	return roundSig(val*sgVo.Factor + sgVo.Offsets)
}

// roundSig 压到10位有效数字, 抑制因子乘法带进来的浮点尾数噪声
func roundSig(v float64) float64 {
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'g', 10, 64), 64)
	if err != nil {
		return v
	}
	return r
}
