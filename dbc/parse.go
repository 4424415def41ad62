package dbc

import (
	"bufio"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/research1-alt/Can-Log-Convertor-analyzer/base"
)

var log = base.Logger

const (
	kBO = "BO_"
	kSG = "SG_"
)

// SG_ 行: 名字 : 起始位|长度@字节序(+|-) (因子,偏移) [最小|最大] "单位" 接收节点
// [min|max]段可缺省, 缺省时两端都取0
const sgExpr = `^SG_\s*(.+?)\s*:\s*(\d+)\|(\d+)@(\d)([+\-])\s*\(([^,]+),([^)]+)\)\s*(?:\[([^|\]]*)\|([^\]]*)\])?\s*"([^"]*)"(.*)$`

var sgRegexp = regexp.MustCompile(sgExpr)

var boSplit = regexp.MustCompile(" |:")

type Parser struct {
	r   io.Reader
	buf []string
	err error
}

func NewParser(r io.Reader) *Parser {
	return &Parser{
		r: r,
	}
}

// ParseText 便捷入口, 矩阵文本 -> Matrix
func ParseText(text string) *Matrix {
	return NewParser(strings.NewReader(text)).Parse()
}

// Parse 逐行扫描, 以"当前报文"为上下文挂接后续SG_行;
// 两种行型都不匹配的行(注释,空行,无关段落)一律跳过, 不算错误
func (p *Parser) Parse() *Matrix {
	input := bufio.NewReader(p.r)

	// read file
	for {
		// read a line
		line, err := input.ReadString('\n')
		if len(line) > 0 {
			p.buf = append(p.buf, strings.Trim(line, "\r\n"))
		}

		if err == io.EOF {
			var name string
			if f, ok := p.r.(*os.File); ok {
				name = f.Name()
			}
			log.Debugln("read EOF from ", name)
			break
		}

		if err != nil {
			log.Errorln(err)
			p.setErr(err)
			break
		}
	}

	matrix := NewMatrix()

	// 当前报文上下文, nil表示还没遇到BO_行
	var curBoVO *BoVO
	for idx := 0; idx < len(p.buf); idx++ {
		line := strings.TrimSpace(p.buf[idx])
		upperLine := strings.ToUpper(line)
		if strings.HasPrefix(upperLine, kBO) {
			if boVO := parseBO(line); boVO != nil {
				matrix.BoVoMap[boVO.CanId] = boVO
				curBoVO = boVO
			}
		} else if strings.HasPrefix(upperLine, kSG) {
			if curBoVO == nil {
				// 没有报文上下文的信号行, 丢弃
				continue
			}
			parseSG(line, curBoVO)
		}
	}

	return matrix
}

// BO_ id name : dlc transmitter
func parseBO(line string) *BoVO {
	subs := boSplit.Split(line, -1)

	for i := 0; i < len(subs); i++ {
		if "" == subs[i] {
			tmp := subs[0:i]
			tmp = append(tmp, subs[i+1:]...)
			subs = tmp
			i--
		}
	}

	if len(subs) < 4 {
		return nil
	}

	// id可能是十进制或0x十六进制字面量, 一律归一化为十进制键
	canId, ok := CanonicalId(subs[1])
	if !ok {
		return nil
	}

	dataLenth, err := strconv.ParseUint(subs[3], 10, 64)
	if err != nil {
		return nil
	}

	var boVO BoVO
	boVO.CanId = canId
	boVO.CanName = subs[2]
	boVO.DataLenth = dataLenth
	if len(subs) > 4 {
		boVO.Transmitter = subs[4]
	}
	boVO.SgVoMap = make(map[string]*SgVO)
	boVO.DbcContent = line
	return &boVO
}

func parseSG(line string, boVO *BoVO) {
	matcheStr := sgRegexp.FindStringSubmatch(line)
	if matcheStr == nil {
		log.Debugf("%s is not reg match", line)
		return
	}

	var sgVO SgVO
	// 名字后可能跟多路选择器标记, 只取第一段
	nameFields := strings.Fields(matcheStr[1])
	if len(nameFields) == 0 {
		return
	}
	sgVO.SignalName = nameFields[0]

	sgVO.StartBit, _ = strconv.Atoi(strings.TrimSpace(matcheStr[2]))
	sgVO.BitWidth, _ = strconv.Atoi(strings.TrimSpace(matcheStr[3]))
	sgVO.ByteOrder, _ = strconv.Atoi(strings.TrimSpace(matcheStr[4]))
	sgVO.ValueType = strings.TrimSpace(matcheStr[5])
	sgVO.Factor, _ = strconv.ParseFloat(strings.TrimSpace(matcheStr[6]), 64)
	sgVO.Offsets, _ = strconv.ParseFloat(strings.TrimSpace(matcheStr[7]), 64)
	// 范围缺省时matcheStr[8]/[9]为空串, ParseFloat失败保持0
	sgVO.Min, _ = strconv.ParseFloat(strings.TrimSpace(matcheStr[8]), 64)
	sgVO.Max, _ = strconv.ParseFloat(strings.TrimSpace(matcheStr[9]), 64)
	sgVO.Unit = strings.TrimSpace(matcheStr[10])
	sgVO.DbcContent = line

	if sgVO.BitWidth < 1 {
		return
	}

	// 同名信号后出现的覆盖先出现的
	if _, ok := boVO.SgVoMap[sgVO.SignalName]; !ok {
		boVO.OrderedSignals = append(boVO.OrderedSignals, sgVO.SignalName)
	}
	boVO.SgVoMap[sgVO.SignalName] = &sgVO
}

// Err returns the first non-EOF error that was encountered by the Parser.
func (p *Parser) Err() error {
	if p.err == io.EOF {
		return nil
	}
	return p.err
}

// setErr records the first error encountered.
func (p *Parser) setErr(err error) {
	if p.err == nil || p.err == io.EOF {
		p.err = err
	}
}
