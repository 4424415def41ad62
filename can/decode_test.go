package can

import (
	"fmt"
	"testing"

	"github.com/research1-alt/Can-Log-Convertor-analyzer/dbc"

	"github.com/stretchr/testify/require"
)

func testMatrix(sgVos ...*dbc.SgVO) *dbc.Matrix {
	boVO := &dbc.BoVO{
		CanId:     "291", // 0x123
		CanName:   "TEST_MSG",
		DataLenth: 8,
		SgVoMap:   make(map[string]*dbc.SgVO),
	}
	for _, sgVo := range sgVos {
		boVO.SgVoMap[sgVo.SignalName] = sgVo
		boVO.OrderedSignals = append(boVO.OrderedSignals, sgVo.SignalName)
	}

	m := dbc.NewMatrix()
	m.BoVoMap[boVO.CanId] = boVO
	return m
}

func testFrame(data ...string) Frame {
	return Frame{
		Timestamp: 1.5,
		CanId:     "0x123",
		Dlc:       len(data),
		Data:      data,
		Direction: DirRecv,
	}
}

// encodeSignal 解码算法的逆运算, 把原始值写回载荷字节
func encodeSignal(sgVo *dbc.SgVO, raw uint64, size int) []string {
	payload := make([]byte, size)
	for i := 0; i < sgVo.BitWidth; i++ {
		k := sgVo.StartBit + i
		if k/8 >= size {
			break
		}

		if dbc.Intel == sgVo.ByteOrder {
			if raw>>uint(i)&0x01 == 1 {
				payload[k/8] |= 1 << uint(k%8)
			}
		} else {
			if raw>>uint(sgVo.BitWidth-1-i)&0x01 == 1 {
				payload[k/8] |= 1 << uint(7-k%8)
			}
		}
	}

	data := make([]string, size)
	for i, b := range payload {
		data[i] = fmt.Sprintf("%02X", b)
	}
	return data
}

func TestDecodeLittleEndianUnsigned(t *testing.T) {
	m := testMatrix(&dbc.SgVO{
		SignalName: "Spd",
		StartBit:   0,
		BitWidth:   9,
		ByteOrder:  dbc.Intel,
		ValueType:  "+",
		Factor:     1,
	})

	out := DecodeFrames([]Frame{testFrame("01", "00")}, m)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].Decoded)
	require.Equal(t, 1.0, out[0].Decoded["Spd"])
}

func TestDecodeBigEndianSigned(t *testing.T) {
	m := testMatrix(&dbc.SgVO{
		SignalName: "Temp",
		StartBit:   0,
		BitWidth:   8,
		ByteOrder:  dbc.Motorola,
		ValueType:  "-",
		Factor:     1,
		Offsets:    -40,
	})

	// 0xFF 按8位补码是-1, 物理值-1*1+(-40)
	out := DecodeFrames([]Frame{testFrame("FF")}, m)
	require.Equal(t, -41.0, out[0].Decoded["Temp"])
}

func TestDecodeBigEndianCrossByte(t *testing.T) {
	m := testMatrix(&dbc.SgVO{
		SignalName: "Pressure",
		StartBit:   4,
		BitWidth:   12,
		ByteOrder:  dbc.Motorola,
		ValueType:  "+",
		Factor:     1,
	})

	// 0x0A 0xBC: 流位4..15 = 0xABC
	out := DecodeFrames([]Frame{testFrame("0A", "BC")}, m)
	require.Equal(t, float64(0xABC), out[0].Decoded["Pressure"])
}

func TestDecodeLookupMissLeavesDecodedAbsent(t *testing.T) {
	m := testMatrix(&dbc.SgVO{SignalName: "Spd", BitWidth: 8, ByteOrder: dbc.Intel, ValueType: "+", Factor: 1})

	frame := testFrame("01")
	frame.CanId = "0x999"

	out := DecodeFrames([]Frame{frame}, m)
	require.Nil(t, out[0].Decoded)
	// 除Decoded外逐字段不变
	require.Equal(t, frame, out[0])
}

func TestDecodeTruncatedPayloadZeroFills(t *testing.T) {
	intel := testMatrix(&dbc.SgVO{
		SignalName: "Wide",
		StartBit:   0,
		BitWidth:   16,
		ByteOrder:  dbc.Intel,
		ValueType:  "+",
		Factor:     1,
	})
	out := DecodeFrames([]Frame{testFrame("01")}, intel)
	require.Equal(t, 1.0, out[0].Decoded["Wide"])

	motorola := testMatrix(&dbc.SgVO{
		SignalName: "Wide",
		StartBit:   0,
		BitWidth:   16,
		ByteOrder:  dbc.Motorola,
		ValueType:  "+",
		Factor:     1,
	})
	// 只有高字节在, 低8位补0
	out = DecodeFrames([]Frame{testFrame("FF")}, motorola)
	require.Equal(t, float64(0xFF00), out[0].Decoded["Wide"])

	// 完全越界的信号解出确定的0
	far := testMatrix(&dbc.SgVO{
		SignalName: "Ghost",
		StartBit:   56,
		BitWidth:   8,
		ByteOrder:  dbc.Intel,
		ValueType:  "+",
		Factor:     1,
	})
	out = DecodeFrames([]Frame{testFrame("AA")}, far)
	require.Equal(t, 0.0, out[0].Decoded["Ghost"])
}

func TestDecodeDeclaredDlcClampsPayload(t *testing.T) {
	m := testMatrix(&dbc.SgVO{
		SignalName: "Tail",
		StartBit:   8,
		BitWidth:   8,
		ByteOrder:  dbc.Intel,
		ValueType:  "+",
		Factor:     1,
	})
	m.BoVoMap["291"].DataLenth = 1

	// 声明dlc=1, 第二个字节不可见
	out := DecodeFrames([]Frame{testFrame("11", "22")}, m)
	require.Equal(t, 0.0, out[0].Decoded["Tail"])
}

func TestOneBitSignalsAreBoolean(t *testing.T) {
	for _, byteOrder := range []int{dbc.Intel, dbc.Motorola} {
		for startBit := 0; startBit < 16; startBit++ {
			m := testMatrix(&dbc.SgVO{
				SignalName: "Flag",
				StartBit:   startBit,
				BitWidth:   1,
				ByteOrder:  byteOrder,
				ValueType:  "+",
				Factor:     1,
			})

			for _, data := range [][]string{{"00", "00"}, {"FF", "FF"}, {"A5", "5A"}} {
				out := DecodeFrames([]Frame{testFrame(data...)}, m)
				val := out[0].Decoded["Flag"]
				require.Contains(t, []float64{0, 1}, val, "order(%d) startBit(%d)", byteOrder, startBit)
			}
		}
	}
}

func TestRoundTripBothEndians(t *testing.T) {
	cases := []struct {
		name string
		sgVo *dbc.SgVO
		raw  uint64
	}{
		{"intel-unsigned", &dbc.SgVO{SignalName: "S", StartBit: 3, BitWidth: 13, ByteOrder: dbc.Intel, ValueType: "+", Factor: 0.1, Offsets: -40}, 1000},
		{"motorola-unsigned", &dbc.SgVO{SignalName: "S", StartBit: 5, BitWidth: 13, ByteOrder: dbc.Motorola, ValueType: "+", Factor: 0.25, Offsets: 7}, 4095},
		{"intel-signed", &dbc.SgVO{SignalName: "S", StartBit: 0, BitWidth: 10, ByteOrder: dbc.Intel, ValueType: "-", Factor: 0.5, Offsets: 0}, uint64(1<<10) - 5}, // -5
		{"motorola-signed", &dbc.SgVO{SignalName: "S", StartBit: 8, BitWidth: 12, ByteOrder: dbc.Motorola, ValueType: "-", Factor: 1, Offsets: 100}, uint64(1<<12) - 200}, // -200
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := testMatrix(tc.sgVo)
			want := physicalValue(rawValue(mustPayload(encodeSignal(tc.sgVo, tc.raw, 8)), tc.sgVo), tc.sgVo)

			out := DecodeFrames([]Frame{testFrame(encodeSignal(tc.sgVo, tc.raw, 8)...)}, m)
			require.Equal(t, want, out[0].Decoded["S"])

			// 再和手算的物理值对一遍
			signed := float64(tc.raw)
			if "-" == tc.sgVo.ValueType && tc.raw>>(uint(tc.sgVo.BitWidth)-1)&0x01 == 1 {
				signed = float64(tc.raw) - float64(uint64(1)<<uint(tc.sgVo.BitWidth))
			}
			require.InDelta(t, signed*tc.sgVo.Factor+tc.sgVo.Offsets, out[0].Decoded["S"], 1e-9)
		})
	}
}

func mustPayload(data []string) []byte {
	f := Frame{Data: data}
	return f.PayloadBytes()
}

func TestDecodeIdempotent(t *testing.T) {
	m := testMatrix(
		&dbc.SgVO{SignalName: "A", StartBit: 0, BitWidth: 8, ByteOrder: dbc.Intel, ValueType: "+", Factor: 0.1},
		&dbc.SgVO{SignalName: "B", StartBit: 8, BitWidth: 8, ByteOrder: dbc.Motorola, ValueType: "-", Factor: 1, Offsets: -40},
	)

	first := DecodeFrames([]Frame{testFrame("7B", "FF", "00")}, m)
	second := DecodeFrames(first, m)
	require.Equal(t, first[0].Decoded, second[0].Decoded)
}

func TestDecodeRoundsToTenSignificantDigits(t *testing.T) {
	m := testMatrix(&dbc.SgVO{SignalName: "S", StartBit: 0, BitWidth: 8, ByteOrder: dbc.Intel, ValueType: "+", Factor: 0.1})

	// 3*0.1在二进制浮点里是0.30000000000000004, 输出要稳定在0.3
	out := DecodeFrames([]Frame{testFrame("03")}, m)
	require.Equal(t, 0.3, out[0].Decoded["S"])
}

func TestDecodeParallelMatchesSequential(t *testing.T) {
	m := testMatrix(
		&dbc.SgVO{SignalName: "A", StartBit: 0, BitWidth: 16, ByteOrder: dbc.Intel, ValueType: "+", Factor: 0.01},
		&dbc.SgVO{SignalName: "B", StartBit: 16, BitWidth: 8, ByteOrder: dbc.Motorola, ValueType: "-", Factor: 1},
	)

	frames := make([]Frame, 0, 1000)
	for i := 0; i < 1000; i++ {
		frames = append(frames, testFrame(fmt.Sprintf("%02X", i%256), "27", "FF"))
	}

	sequential := DecodeFrames(frames, m)
	parallel := DecodeFramesParallel(frames, m, 8)
	require.Equal(t, sequential, parallel)
}

func TestDecodeAgainstDefaultMatrix(t *testing.T) {
	// 0x53F == 1343, VehSpdAvgDrvn: 0|16@1+ (0.01,0)
	frame := Frame{Timestamp: 1, CanId: "0x53F", Dlc: 8, Data: []string{"10", "27", "00", "00", "00", "00", "00", "00"}, Direction: DirRecv}

	out := DecodeFrames([]Frame{frame}, dbc.Default())
	require.NotNil(t, out[0].Decoded)
	require.Equal(t, 100.0, out[0].Decoded["VehSpdAvgDrvn"])
}

func BenchmarkDecodeFrames(b *testing.B) {
	m := testMatrix(
		&dbc.SgVO{SignalName: "A", StartBit: 0, BitWidth: 16, ByteOrder: dbc.Intel, ValueType: "+", Factor: 0.01},
		&dbc.SgVO{SignalName: "B", StartBit: 16, BitWidth: 12, ByteOrder: dbc.Motorola, ValueType: "-", Factor: 1, Offsets: -40},
	)

	frames := make([]Frame, 1000)
	for i := range frames {
		frames[i] = testFrame("11", "22", "33", "44", "55", "66", "77", "88")
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		DecodeFrames(frames, m)
	}
}
