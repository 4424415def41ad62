package whitelist

import (
	"errors"
	"io"
	"net/http"
	"os"
	"sync"

	"github.com/research1-alt/Can-Log-Convertor-analyzer/base"
	"github.com/research1-alt/Can-Log-Convertor-analyzer/can"
	"github.com/research1-alt/Can-Log-Convertor-analyzer/dbc"

	gojson "github.com/goccy/go-json"
)

var log = base.Logger

const (
	OK uint = iota
	ReadBodyError
	ParseJsonError
	InvalidAction
	WrongHttpMethod
)

// Action
const (
	Do_ResetWith int = iota + 1
	Do_Add
	Do_Delete
)

var (
	AsyncSaveChan = make(chan bool)
	WhiteListCode = make(map[uint]string)
)

func init() {
	WhiteListCode[OK] = "OK"
	WhiteListCode[ReadBodyError] = "Read body error"
	WhiteListCode[ParseJsonError] = "Parse json error"
	WhiteListCode[InvalidAction] = "Invalid action"
	WhiteListCode[WrongHttpMethod] = "Wrong http method, should use POST"
}

type WhiteListRsp struct {
	StatusCode uint   `json:"statusCode"`
	Reason     string `json:"reason"`
}

type WhiteListReq struct {
	TaskId    int                 `json:"taskId"`
	Action    int                 `json:"action"`
	CanList   map[string][]string `json:"canList"`
	TimeStamp string              `json:"timeStamp"`
}

// canId(十进制规范键) -> 信号集, 与矩阵的键形式一致
type WhiteListMap map[string]map[string]bool

type WhiteList struct {
	mu           sync.Mutex
	whiteListMap WhiteListMap
	matrix       *dbc.Matrix
	enable       bool
}

var g_WhiteList = &WhiteList{
	whiteListMap: make(WhiteListMap),
}

func SetEnableFlag(enable bool) {
	g_WhiteList.setEnableFlag(enable)
}

func IsEnable() bool {
	return g_WhiteList.isEnable()
}

func QueryByCanId(canId string) bool {
	return g_WhiteList.queryByCanId(canId)
}

func QueryByCanIdAndSignal(canId string, signal string) bool {
	return g_WhiteList.queryByCanIdAndSignal(canId, signal)
}

// Split 解码后的帧分成白名单命中和未命中两路, 命中帧的Decoded只保留白名单信号
// 白名单关闭时全部算命中; 分流发生在输出侧, 解码引擎本身不感知白名单
func Split(frames []can.Frame) (hit, miss []can.Frame) {
	if !IsEnable() {
		return frames, nil
	}

	for _, frame := range frames {
		decId, ok := frame.DecimalId()
		if !ok || !QueryByCanId(decId) {
			miss = append(miss, frame)
			continue
		}

		if frame.Decoded != nil {
			filtered := make(map[string]float64, len(frame.Decoded))
			for sigName, val := range frame.Decoded {
				if QueryByCanIdAndSignal(decId, sigName) {
					filtered[sigName] = val
				}
			}
			frame.Decoded = filtered
		}

		hit = append(hit, frame)
	}

	return hit, miss
}

func (w *WhiteList) setEnableFlag(enable bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.enable = enable
}

func (w *WhiteList) isEnable() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enable
}

func (w *WhiteList) queryByCanId(canId string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.whiteListMap[canId]; !ok {
		return false
	}
	return true
}

func (w *WhiteList) queryByCanIdAndSignal(canId string, signal string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if signals, ok := w.whiteListMap[canId]; ok {
		if _, ok := signals[signal]; ok {
			return true
		}
	}

	return false
}

func (w *WhiteList) resetWith(req *WhiteListReq) {
	w.mu.Lock()
	defer w.mu.Unlock()
	// 重置清空map
	w.whiteListMap = WhiteListMap{}
	w.innerAdd(req)
}

func (w *WhiteList) add(req *WhiteListReq) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.innerAdd(req)
}

func (w *WhiteList) innerAdd(req *WhiteListReq) {
	for rawCanId, vSignals := range req.CanList {
		canId, ok := dbc.CanonicalId(rawCanId)
		if !ok {
			log.Errorf("Invalid canId (%s)", rawCanId)
			continue
		}

		signals := w.whiteListMap[canId]
		if signals == nil {
			signals = make(map[string]bool)
			w.whiteListMap[canId] = signals
		}

		if len(vSignals) == 1 && "*" == vSignals[0] {
			var boVO *dbc.BoVO
			if boVO, ok = w.matrix.Lookup(canId); !ok {
				log.Errorf("No dbc data !!! canId(%s)", canId)
				continue
			}

			for _, signal := range boVO.OrderedSignals {
				signals[signal] = true
			}
		} else {
			for _, signal := range vSignals {
				signals[signal] = true
			}
		}
	}
}

func (w *WhiteList) delete(req *WhiteListReq) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for rawCanId, vSignals := range req.CanList {
		canId, ok := dbc.CanonicalId(rawCanId)
		if !ok {
			log.Errorf("Invalid canId (%s)", rawCanId)
			continue
		}

		if signals, ok := w.whiteListMap[canId]; ok {
			// canId存在
			if len(vSignals) == 1 && "*" == vSignals[0] {
				var boVO *dbc.BoVO
				var found bool
				if boVO, found = w.matrix.Lookup(canId); !found {
					log.Errorf("No dbc data !!! canId(%s)", canId)
					continue
				}

				for _, signal := range boVO.OrderedSignals {
					delete(signals, signal)
				}
			} else {
				for _, signal := range vSignals {
					delete(signals, signal)
				}
			}

			if len(signals) <= 0 {
				delete(w.whiteListMap, canId)
			}
		}
	}
}

func SetWhiteList(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		rspByCode(w, WrongHttpMethod, http.StatusMethodNotAllowed)
		return
	}

	all, err := io.ReadAll(r.Body)
	if err != nil {
		rspByCode(w, ReadBodyError, http.StatusInternalServerError)
		return
	}

	req := WhiteListReq{}
	err = gojson.Unmarshal(all, &req)
	if err != nil {
		rspByCode(w, ParseJsonError, http.StatusUnprocessableEntity)
		return
	}

	switch req.Action {
	case Do_ResetWith:
		g_WhiteList.resetWith(&req)
	case Do_Add:
		g_WhiteList.add(&req)
	case Do_Delete:
		g_WhiteList.delete(&req)
	default:
		{
			rspByCode(w, InvalidAction, http.StatusUnprocessableEntity)
			return
		}
	}

	AsyncSaveChan <- true
	rspByCode(w, OK, http.StatusOK)
}

func rspByCode(w http.ResponseWriter, errCode uint, statusCode int) {
	rsp, _ := toJsonRsp(errCode)
	w.WriteHeader(statusCode)
	w.Write(rsp)
}

func toJsonRsp(errCode uint) ([]byte, error) {
	rsp := &WhiteListRsp{errCode, WhiteListCode[errCode]}
	jData, err := gojson.Marshal(rsp)
	if err != nil {
		log.Errorln(err)
		return nil, err
	}

	jData = append(jData, '\n')
	return jData, nil
}

func Init(whiteListFile string, wg *sync.WaitGroup, enable bool, matrix *dbc.Matrix) (bool, error) {
	g_WhiteList.setEnableFlag(enable)
	g_WhiteList.matrix = matrix

	ok, err := g_WhiteList.loadFromFile(whiteListFile)
	if err != nil {
		return ok, err
	}

	wg.Add(1)
	go g_WhiteList.asyncSave2WhiteList(whiteListFile, wg)

	return true, nil
}

func (w *WhiteList) loadFromFile(whiteListFile string) (bool, error) {
	if len(whiteListFile) <= 0 {
		return false, errors.New("WhiteList filename is empty")
	}

	file, err := os.OpenFile(whiteListFile, os.O_RDONLY|os.O_CREATE, 0o666)
	if err != nil {
		return false, err
	}
	defer file.Close()

	err = gojson.NewDecoder(file).Decode(&w.whiteListMap)
	if err != nil {
		if err != io.EOF {
			return false, err
		}
	}

	return true, nil
}

func (w *WhiteList) asyncSave2WhiteList(whiteListFile string, wg *sync.WaitGroup) {
	defer wg.Done()

	file, err := os.OpenFile(whiteListFile, os.O_WRONLY|os.O_CREATE, 0o666)
	if err != nil {
		log.Fatalln(err)
	}
	defer file.Close()

	for range AsyncSaveChan {
		buf, err := w.Marshal(w.whiteListMap)
		if err != nil {
			log.Errorln(err)
			continue
		}

		err = file.Truncate(0)
		if err != nil {
			log.Errorln(err)
			continue
		}

		n, err := file.WriteAt(buf, 0)
		if err != nil {
			log.Errorf("Write (%s) failed! reason:(%s), has written (%d) bytes \n", whiteListFile, err.Error(), n)
		}

		log.Debugf("Write (%s) ok! has written (%d) bytes\n", whiteListFile, n)
	}
}

func (w *WhiteList) Marshal(whiteListMap WhiteListMap) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return gojson.Marshal(whiteListMap)
}
