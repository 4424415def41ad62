package whitelist

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/research1-alt/Can-Log-Convertor-analyzer/can"
	"github.com/research1-alt/Can-Log-Convertor-analyzer/dbc"

	"github.com/stretchr/testify/require"
)

func setupMatrix() *dbc.Matrix {
	boVO := &dbc.BoVO{
		CanId:   "291", // 0x123
		CanName: "TEST_MSG",
		SgVoMap: map[string]*dbc.SgVO{
			"A": {SignalName: "A"},
			"B": {SignalName: "B"},
		},
		OrderedSignals: []string{"A", "B"},
	}

	m := dbc.NewMatrix()
	m.BoVoMap[boVO.CanId] = boVO
	return m
}

func resetWhiteList(m *dbc.Matrix, enable bool) {
	g_WhiteList.mu.Lock()
	g_WhiteList.whiteListMap = make(WhiteListMap)
	g_WhiteList.matrix = m
	g_WhiteList.mu.Unlock()
	SetEnableFlag(enable)
}

func decodedFrame(canId string, signals map[string]float64) can.Frame {
	return can.Frame{Timestamp: 1, CanId: canId, Decoded: signals}
}

func TestSplitDisabledPassesEverything(t *testing.T) {
	resetWhiteList(setupMatrix(), false)

	frames := []can.Frame{decodedFrame("0x123", map[string]float64{"A": 1})}
	hit, miss := Split(frames)
	require.Len(t, hit, 1)
	require.Empty(t, miss)
}

func TestSplitFiltersSignals(t *testing.T) {
	resetWhiteList(setupMatrix(), true)
	g_WhiteList.add(&WhiteListReq{CanList: map[string][]string{"291": {"A"}}})

	frames := []can.Frame{
		decodedFrame("0x123", map[string]float64{"A": 1, "B": 2}),
		decodedFrame("0x999", map[string]float64{"X": 3}),
	}

	hit, miss := Split(frames)
	require.Len(t, hit, 1)
	require.Equal(t, map[string]float64{"A": 1}, hit[0].Decoded)
	require.Len(t, miss, 1)
	require.Equal(t, "0x999", miss[0].CanId)
}

func TestWildcardExpandsFromMatrix(t *testing.T) {
	resetWhiteList(setupMatrix(), true)
	g_WhiteList.add(&WhiteListReq{CanList: map[string][]string{"0x123": {"*"}}})

	require.True(t, QueryByCanIdAndSignal("291", "A"))
	require.True(t, QueryByCanIdAndSignal("291", "B"))
}

func TestDeleteRemovesEmptyMessage(t *testing.T) {
	resetWhiteList(setupMatrix(), true)
	g_WhiteList.add(&WhiteListReq{CanList: map[string][]string{"291": {"A"}}})
	g_WhiteList.delete(&WhiteListReq{CanList: map[string][]string{"291": {"A"}}})

	require.False(t, QueryByCanId("291"))
}

func TestSetWhiteListHandler(t *testing.T) {
	resetWhiteList(setupMatrix(), true)

	r := httptest.NewRequest(http.MethodGet, "/whitelist", nil)
	w := httptest.NewRecorder()
	SetWhiteList(w, r)
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)

	go func() { <-AsyncSaveChan }()

	body := `{"taskId":1,"action":2,"canList":{"291":["A"]}}`
	r = httptest.NewRequest(http.MethodPost, "/whitelist", strings.NewReader(body))
	w = httptest.NewRecorder()
	SetWhiteList(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, QueryByCanIdAndSignal("291", "A"))

	r = httptest.NewRequest(http.MethodPost, "/whitelist", strings.NewReader(`{"action":99}`))
	w = httptest.NewRecorder()
	SetWhiteList(w, r)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
